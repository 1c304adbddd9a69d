package service

import (
	"context"
	"errors"
	"time"

	"deposit-ledger/internal/core/domain"
	"deposit-ledger/internal/core/ports"
	"deposit-ledger/internal/metrics"

	"github.com/rs/zerolog"
)

// DepositAttributorImpl implements ports.DepositAttributor.
//
// The processed-signature cache is only a fast path. The ledger's unique tag is
// what guarantees a signature is credited at most once.
type DepositAttributorImpl struct {
	entries  ports.LedgerRepository
	ledger   ports.LedgerService
	observer ports.TransferObserver
	cache    ports.ProcessedSignatureCache // optional
	cacheTTL time.Duration
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewDepositAttributor creates a new DepositAttributorImpl. cache and m may be nil.
func NewDepositAttributor(
	entries ports.LedgerRepository,
	ledger ports.LedgerService,
	observer ports.TransferObserver,
	cache ports.ProcessedSignatureCache,
	cacheTTL time.Duration,
	m *metrics.Metrics,
	log zerolog.Logger,
) *DepositAttributorImpl {
	return &DepositAttributorImpl{
		entries:  entries,
		ledger:   ledger,
		observer: observer,
		cache:    cache,
		cacheTTL: cacheTTL,
		metrics:  m,
		log:      log,
	}
}

// Attribute turns one transfer into at most one deposit credit.
func (a *DepositAttributorImpl) Attribute(ctx context.Context, signature string, account *domain.Account, address string) domain.AttributionOutcome {
	outcome := a.attribute(ctx, signature, account, address)
	a.metrics.ObserveAttribution(string(outcome.Status), outcome.Amount)
	return outcome
}

func (a *DepositAttributorImpl) attribute(ctx context.Context, signature string, account *domain.Account, address string) domain.AttributionOutcome {
	log := a.log.With().Int64("account_id", account.ID).Str("address", address).Str("signature", signature).Logger()

	if a.cache != nil {
		seen, err := a.cache.Seen(ctx, signature)
		if err != nil {
			log.Warn().Err(err).Msg("signature cache unavailable, falling through to ledger")
		} else if seen {
			return domain.AlreadyProcessed()
		}
	}

	exists, err := a.entries.ExistsByTag(ctx, signature)
	if err != nil {
		log.Error().Err(err).Msg("ledger lookup failed")
		return domain.Failed(err)
	}
	if exists {
		a.markProcessed(ctx, log, signature)
		return domain.AlreadyProcessed()
	}

	detail, err := a.observer.FetchTransferDetail(ctx, signature, address)
	switch {
	case errors.Is(err, domain.ErrNotYetAvailable), errors.Is(err, domain.ErrUpstreamUnavailable):
		log.Debug().Err(err).Msg("transfer not resolvable yet")
		return domain.NotYetAvailable(err.Error())
	case errors.Is(err, domain.ErrNotParticipant):
		log.Warn().Msg("address is not a participant of a transfer listed for it, skipping")
		return domain.NoOp("not a participant")
	case errors.Is(err, domain.ErrMalformedTransfer):
		log.Warn().Err(err).Msg("transfer cannot be decoded, skipping")
		return domain.NoOp("malformed transfer")
	case err != nil:
		log.Error().Err(err).Msg("fetch transfer detail failed")
		return domain.Failed(err)
	}

	amount := detail.NetReceived()
	if amount <= 0 {
		return domain.NoOp("no incoming amount")
	}

	res, err := a.ledger.ApplyDeposit(ctx, account, signature, amount)
	if err != nil {
		log.Error().Err(err).Int64("amount", amount).Msg("deposit credit failed")
		return domain.Failed(err)
	}
	if !res.Applied {
		// A concurrent cycle recorded it first.
		a.markProcessed(ctx, log, signature)
		return domain.AlreadyProcessed()
	}

	a.markProcessed(ctx, log, signature)
	log.Info().
		Int64("amount", res.Amount).
		Int64("referral_bonus", res.ReferralBonus).
		Int64("balance", res.Balance).
		Msg("deposit credited")
	return domain.Credited(res.Amount, res.ReferralBonus, res.Balance)
}

func (a *DepositAttributorImpl) markProcessed(ctx context.Context, log zerolog.Logger, signature string) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Mark(ctx, signature, a.cacheTTL); err != nil {
		log.Warn().Err(err).Msg("failed to cache processed signature")
	}
}
