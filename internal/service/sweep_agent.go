package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deposit-ledger/internal/core/domain"
	"deposit-ledger/internal/core/ports"
	"deposit-ledger/internal/metrics"
	"deposit-ledger/pkg/apperror"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// SweepConfig holds the sweep destination and pacing.
type SweepConfig struct {
	TreasuryAddress string
	AccountDelay    time.Duration
	PageSize        int
}

// SweepAgentImpl implements ports.SweepAgent.
//
// The swept amount comes from the on-chain balance. How much of it leaves the
// internal balance is up to the reconciler.
type SweepAgentImpl struct {
	accounts   ports.AccountRepository
	ledger     ports.LedgerRepository
	registry   ports.AddressRegistry
	chain      ports.ChainReader
	submitter  ports.ChainSubmitter
	reconciler ports.BalanceReconciler
	transactor ports.DBTransactor
	cfg        SweepConfig
	metrics    *metrics.Metrics
	log        zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewSweepAgent creates a new SweepAgentImpl. m may be nil.
func NewSweepAgent(
	accounts ports.AccountRepository,
	ledger ports.LedgerRepository,
	registry ports.AddressRegistry,
	chain ports.ChainReader,
	submitter ports.ChainSubmitter,
	reconciler ports.BalanceReconciler,
	transactor ports.DBTransactor,
	cfg SweepConfig,
	m *metrics.Metrics,
	log zerolog.Logger,
) *SweepAgentImpl {
	return &SweepAgentImpl{
		accounts:   accounts,
		ledger:     ledger,
		registry:   registry,
		chain:      chain,
		submitter:  submitter,
		reconciler: reconciler,
		transactor: transactor,
		cfg:        cfg,
		metrics:    m,
		log:        log,
		sleep:      sleepCtx,
	}
}

// Sweep moves everything above minRetain from the account's receiving address
// to the treasury. Operational failures come back as a failed result plus an error;
// a missing treasury aborts before anything else happens.
func (s *SweepAgentImpl) Sweep(ctx context.Context, accountID int64, minRetain uint64) (*domain.SweepResult, error) {
	if s.cfg.TreasuryAddress == "" {
		return nil, apperror.ErrTreasuryNotConfigured(domain.ErrTreasuryNotConfigured)
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get account: %w", err))
	}
	if account == nil {
		return nil, apperror.ErrNotFound("account")
	}

	result, err := s.sweep(ctx, account, minRetain)
	s.metrics.ObserveSweep(string(result.Status), result.Lamports)
	return result, err
}

func (s *SweepAgentImpl) sweep(ctx context.Context, account *domain.Account, minRetain uint64) (*domain.SweepResult, error) {
	result := &domain.SweepResult{AccountID: account.ID, Address: account.Address()}
	log := s.log.With().Int64("account_id", account.ID).Str("address", result.Address).Logger()

	fail := func(reason string, err error) (*domain.SweepResult, error) {
		result.Status = domain.SweepStatusFailed
		result.Reason = reason
		log.Error().Err(err).Msg("sweep failed: " + reason)
		return result, apperror.ErrSweepFailed(err)
	}

	if !account.HasAddress() {
		result.Status = domain.SweepStatusSkipped
		result.Reason = "no receiving address"
		return result, nil
	}

	onChain, err := s.chain.Balance(ctx, result.Address)
	if err != nil {
		result.Status = domain.SweepStatusFailed
		result.Reason = "balance unavailable"
		log.Warn().Err(err).Msg("sweep skipped, balance unavailable")
		return result, apperror.ErrUpstreamUnavailable(err)
	}
	if onChain <= minRetain {
		result.Status = domain.SweepStatusSkipped
		result.Reason = "below retention floor"
		log.Debug().Uint64("balance", onChain).Uint64("min_retain", minRetain).Msg("sweep skipped")
		return result, nil
	}
	amount := onChain - minRetain

	kp, err := s.registry.Keypair(ctx, account.ID)
	if err != nil {
		return fail("keypair unavailable", err)
	}
	if kp.PublicKey != result.Address {
		return fail("keypair does not match address", fmt.Errorf("keypair %s for address %s", kp.PublicKey, result.Address))
	}

	sig, err := s.submitter.SubmitTransfer(ctx, *kp, s.cfg.TreasuryAddress, amount)
	if err != nil {
		return fail("submit transfer", err)
	}
	result.Signature = sig
	log = log.With().Str("signature", sig).Logger()

	if err := s.submitter.AwaitConfirmation(ctx, sig); err != nil {
		if errors.Is(err, domain.ErrTransferFailed) {
			return fail("transfer rejected", err)
		}
		// The transfer may still land; record it anyway.
		log.Warn().Err(err).Msg("sweep confirmation unknown")
	} else {
		result.Confirmed = true
	}

	result.Status = domain.SweepStatusSwept
	result.Lamports = amount

	debited, recorded, err := s.record(ctx, account.ID, sig, amount)
	if err != nil {
		// Funds already moved; the operator must reconcile this one by hand.
		result.Reason = "ledger record failed"
		log.Error().Err(err).Uint64("lamports", amount).Msg("sweep not recorded in ledger")
		return result, nil
	}
	result.Debited = debited
	result.Recorded = recorded

	log.Info().
		Uint64("lamports", amount).
		Int64("debited", debited).
		Bool("confirmed", result.Confirmed).
		Str("policy", s.reconciler.Name()).
		Msg("swept to treasury")
	return result, nil
}

// record writes the sweep entry and debits the reconciled amount in one DB transaction.
// The entry amount equals the debit so balances keep matching entry sums; the full
// on-chain amount is kept as chain_amount.
func (s *SweepAgentImpl) record(ctx context.Context, accountID int64, signature string, swept uint64) (int64, bool, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	account, err := s.accounts.GetByIDForUpdate(ctx, dbTx, accountID)
	if err != nil {
		return 0, false, fmt.Errorf("lock account: %w", err)
	}
	if account == nil {
		return 0, false, domain.ErrAccountNotFound
	}

	debit := s.reconciler.Reconcile(account.Balance, swept)
	chainAmount := int64(swept)
	inserted, err := s.ledger.Insert(ctx, dbTx, &domain.LedgerEntry{
		AccountID:   accountID,
		Tag:         signature,
		Amount:      -debit,
		Category:    domain.CategorySweep,
		ChainAmount: &chainAmount,
	})
	if err != nil {
		return 0, false, fmt.Errorf("insert sweep entry: %w", err)
	}
	if !inserted {
		return 0, false, nil
	}

	if debit > 0 {
		if _, err := s.accounts.AdjustBalance(ctx, dbTx, accountID, -debit); err != nil {
			return 0, false, fmt.Errorf("debit balance: %w", err)
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("commit tx: %w", err)
	}
	return debit, true, nil
}

// SweepAll sweeps every account with a receiving address, one at a time.
func (s *SweepAgentImpl) SweepAll(ctx context.Context, minRetain uint64) (*domain.BatchSweepResult, error) {
	if s.cfg.TreasuryAddress == "" {
		return nil, apperror.ErrTreasuryNotConfigured(domain.ErrTreasuryNotConfigured)
	}

	batch := &domain.BatchSweepResult{BatchID: ulid.Make().String(), StartedAt: time.Now().UTC()}
	log := s.log.With().Str("batch_id", batch.BatchID).Logger()
	log.Info().Uint64("min_retain", minRetain).Msg("batch sweep started")

	var afterID int64
	first := true
loop:
	for {
		page, err := s.accounts.ListWithAddress(ctx, afterID, s.cfg.PageSize)
		if err != nil {
			log.Error().Err(err).Msg("batch sweep cannot list accounts")
			break
		}
		if len(page) == 0 {
			break
		}
		for i := range page {
			account := &page[i]
			afterID = account.ID

			if !first {
				if err := s.sleep(ctx, s.cfg.AccountDelay); err != nil {
					break loop
				}
			}
			first = false

			result, _ := s.sweep(ctx, account, minRetain)
			s.metrics.ObserveSweep(string(result.Status), result.Lamports)
			batch.Add(*result)
		}
		if len(page) < s.cfg.PageSize {
			break
		}
	}

	batch.FinishedAt = time.Now().UTC()
	log.Info().
		Int("succeeded", batch.Succeeded).
		Int("failed", batch.Failed).
		Int("skipped", batch.Skipped).
		Uint64("total_lamports", batch.TotalLamports).
		Dur("duration", batch.FinishedAt.Sub(batch.StartedAt)).
		Msg("batch sweep complete")
	return batch, nil
}
