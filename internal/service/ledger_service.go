package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"deposit-ledger/internal/core/domain"
	"deposit-ledger/internal/core/ports"
	"deposit-ledger/pkg/apperror"
	"deposit-ledger/pkg/lamports"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// LedgerServiceImpl implements ports.LedgerService.
// Every balance change is an entry insert plus an atomic balance update in one DB transaction.
type LedgerServiceImpl struct {
	accounts   ports.AccountRepository
	ledger     ports.LedgerRepository
	settings   ports.SettingsService
	notify     ports.NotificationQueue
	transactor ports.DBTransactor
	log        zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl. notify may be nil.
func NewLedgerService(
	accounts ports.AccountRepository,
	ledger ports.LedgerRepository,
	settings ports.SettingsService,
	notify ports.NotificationQueue,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		accounts:   accounts,
		ledger:     ledger,
		settings:   settings,
		notify:     notify,
		transactor: transactor,
		log:        log,
	}
}

// EnsureAccount returns the account for externalID, creating it on first sight.
// The referrer is attached only at creation and never to the account itself.
func (s *LedgerServiceImpl) EnsureAccount(ctx context.Context, externalID int64, referrerExternalID *int64) (*domain.Account, error) {
	existing, err := s.accounts.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get account: %w", err))
	}
	if existing != nil {
		return existing, nil
	}

	account := &domain.Account{ExternalID: externalID}
	if referrerExternalID != nil && *referrerExternalID != externalID {
		referrer, err := s.accounts.GetByExternalID(ctx, *referrerExternalID)
		if err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("get referrer: %w", err))
		}
		if referrer != nil {
			account.ReferrerID = &referrer.ID
		}
	}

	created, err := s.accounts.Create(ctx, account)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create account: %w", err))
	}
	if !created {
		// Lost a race with a concurrent first contact.
		existing, err = s.accounts.GetByExternalID(ctx, externalID)
		if err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("get account: %w", err))
		}
		if existing == nil {
			return nil, apperror.InternalError(fmt.Errorf("account %d vanished after conflict", externalID))
		}
		return existing, nil
	}

	s.log.Info().
		Int64("account_id", account.ID).
		Int64("external_id", externalID).
		Bool("referred", account.ReferrerID != nil).
		Msg("account created")
	return account, nil
}

// GetAccount returns the account or a not-found error.
func (s *LedgerServiceImpl) GetAccount(ctx context.Context, accountID int64) (*domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get account: %w", err))
	}
	if account == nil {
		return nil, apperror.ErrNotFound("account")
	}
	return account, nil
}

// GetBalance returns the cached balance in lamports.
func (s *LedgerServiceImpl) GetBalance(ctx context.Context, accountID int64) (int64, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// Credit adds req.Amount to the account under an explicit category.
func (s *LedgerServiceImpl) Credit(ctx context.Context, req ports.EntryRequest) (*ports.PostingResult, error) {
	return s.postSingle(ctx, req, req.Amount)
}

// Debit removes req.Amount from the account. The balance never goes negative.
func (s *LedgerServiceImpl) Debit(ctx context.Context, req ports.EntryRequest) (*ports.PostingResult, error) {
	return s.postSingle(ctx, req, -req.Amount)
}

func (s *LedgerServiceImpl) postSingle(ctx context.Context, req ports.EntryRequest, delta int64) (*ports.PostingResult, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if !req.Category.Valid() {
		return nil, apperror.ErrInvalidCategory()
	}
	if req.Tag == "" {
		return nil, apperror.Validation("tag is required")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	entry := domain.LedgerEntry{
		AccountID: req.AccountID,
		Tag:       req.Tag,
		Amount:    delta,
		Category:  req.Category,
		OrderRef:  req.OrderRef,
	}
	balance, applied, err := s.post(ctx, dbTx, &entry)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, apperror.ErrDuplicateEntry()
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Int64("account_id", req.AccountID).
		Str("category", string(req.Category)).
		Str("tag", req.Tag).
		Int64("amount", delta).
		Int64("balance", balance).
		Msg("ledger entry posted")

	return &ports.PostingResult{Entry: entry, Balance: balance}, nil
}

// post appends entry and applies its amount to the cached balance inside dbTx.
// applied is false when the tag was already recorded; nothing changes then.
// Positive referral entries also increase the account's referral earnings.
func (s *LedgerServiceImpl) post(ctx context.Context, dbTx pgx.Tx, entry *domain.LedgerEntry) (int64, bool, error) {
	inserted, err := s.ledger.Insert(ctx, dbTx, entry)
	if err != nil {
		return 0, false, apperror.ErrDatabaseError(fmt.Errorf("insert entry %s: %w", entry.Tag, err))
	}
	if !inserted {
		return 0, false, nil
	}

	balance, err := s.accounts.AdjustBalance(ctx, dbTx, entry.AccountID, entry.Amount)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientBalance):
			return 0, false, apperror.ErrInsufficientBalance()
		case errors.Is(err, domain.ErrAccountNotFound):
			return 0, false, apperror.ErrNotFound("account")
		}
		return 0, false, apperror.ErrDatabaseError(fmt.Errorf("adjust balance: %w", err))
	}

	if entry.Category.IsReferral() && entry.Amount > 0 {
		if err := s.accounts.AddReferralEarnings(ctx, dbTx, entry.AccountID, entry.Amount); err != nil {
			return 0, false, apperror.ErrDatabaseError(fmt.Errorf("add referral earnings: %w", err))
		}
	}
	return balance, true, nil
}

// ApplyDeposit records a deposit tagged with the transfer signature and, for referred
// accounts, the referrer's bonus tagged referral_<signature>. Both land in one DB transaction.
// A replayed signature reports Applied=false without error.
func (s *LedgerServiceImpl) ApplyDeposit(ctx context.Context, account *domain.Account, signature string, amount int64) (*ports.DepositResult, error) {
	if amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	balance, applied, err := s.post(ctx, dbTx, &domain.LedgerEntry{
		AccountID: account.ID,
		Tag:       signature,
		Amount:    amount,
		Category:  domain.CategoryDeposit,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return &ports.DepositResult{Applied: false}, nil
	}

	result := &ports.DepositResult{Applied: true, Amount: amount, Balance: balance}

	if account.IsReferred() {
		pct := s.settings.Percent(ctx, domain.SettingReferralBonusPercent)
		bonus := lamports.Percent(amount, pct)
		if bonus > 0 {
			_, bonusApplied, err := s.post(ctx, dbTx, &domain.LedgerEntry{
				AccountID: *account.ReferrerID,
				Tag:       domain.ReferralBonusTag(signature),
				Amount:    bonus,
				Category:  domain.CategoryReferralBonus,
			})
			if err != nil {
				return nil, fmt.Errorf("referral bonus: %w", err)
			}
			if bonusApplied {
				result.ReferralBonus = bonus
				result.ReferrerID = account.ReferrerID
			}
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}
	return result, nil
}

// Purchase charges the account for an order. Referred accounts get a discount and
// their referrer earns a commission on the undiscounted total.
func (s *LedgerServiceImpl) Purchase(ctx context.Context, req ports.PurchaseRequest) (*ports.PurchaseResult, error) {
	if req.OrderRef == "" {
		return nil, apperror.Validation("order_ref is required")
	}
	if req.UnitPrice <= 0 || req.Quantity <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.UnitPrice > math.MaxInt64/req.Quantity {
		return nil, apperror.ErrInvalidAmount()
	}
	total := req.UnitPrice * req.Quantity

	account, err := s.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	result := &ports.PurchaseResult{}
	if account.IsReferred() {
		result.Discount = lamports.Percent(total, s.settings.Percent(ctx, domain.SettingReferralDiscountPercent))
	}
	result.Charged = total - result.Discount

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	orderRef := req.OrderRef
	balance, applied, err := s.post(ctx, dbTx, &domain.LedgerEntry{
		AccountID: account.ID,
		Tag:       domain.PurchaseTag(orderRef),
		Amount:    -result.Charged,
		Category:  domain.CategoryPurchase,
		OrderRef:  &orderRef,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, apperror.ErrDuplicateEntry()
	}
	result.Balance = balance

	var referrerBalance int64
	if account.IsReferred() {
		commission := lamports.Percent(total, s.settings.Percent(ctx, domain.SettingReferralCommissionPercent))
		if commission > 0 {
			rb, commissionApplied, err := s.post(ctx, dbTx, &domain.LedgerEntry{
				AccountID: *account.ReferrerID,
				Tag:       domain.CommissionTag(orderRef),
				Amount:    commission,
				Category:  domain.CategoryReferralCommission,
				OrderRef:  &orderRef,
			})
			if err != nil {
				return nil, fmt.Errorf("referral commission: %w", err)
			}
			if commissionApplied {
				result.Commission = commission
				result.ReferrerID = account.ReferrerID
				referrerBalance = rb
			}
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Int64("account_id", account.ID).
		Str("order_ref", orderRef).
		Int64("charged", result.Charged).
		Int64("discount", result.Discount).
		Int64("commission", result.Commission).
		Msg("purchase recorded")

	if result.Commission > 0 {
		s.notifyCommission(ctx, *result.ReferrerID, result.Commission, referrerBalance)
	}
	return result, nil
}

func (s *LedgerServiceImpl) notifyCommission(ctx context.Context, referrerID, commission, balance int64) {
	if s.notify == nil {
		return
	}
	referrer, err := s.accounts.GetByID(ctx, referrerID)
	if err != nil || referrer == nil {
		s.log.Warn().Err(err).Int64("account_id", referrerID).Msg("cannot notify referrer")
		return
	}
	s.notify.Enqueue(domain.Notification{
		AccountID:  referrer.ID,
		ExternalID: referrer.ExternalID,
		Kind:       domain.NotificationReferralCommission,
		Text:       referralCommissionText(commission, balance),
	})
}
