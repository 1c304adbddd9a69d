package service

import (
	"context"
	"fmt"

	"deposit-ledger/internal/core/domain"
	"deposit-ledger/internal/core/ports"
	"deposit-ledger/pkg/apperror"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// reportingService implements ports.ReportingService.
type reportingService struct {
	accounts ports.AccountRepository
	ledger   ports.LedgerRepository
}

// NewReportingService creates a new reporting service.
func NewReportingService(accounts ports.AccountRepository, ledger ports.LedgerRepository) ports.ReportingService {
	return &reportingService{
		accounts: accounts,
		ledger:   ledger,
	}
}

// Statement returns a page of the account's ledger entries, newest first.
func (s *reportingService) Statement(ctx context.Context, params ports.EntryListParams) ([]domain.LedgerEntry, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = defaultPageSize
	}
	if params.PageSize > maxPageSize {
		params.PageSize = maxPageSize
	}
	if params.Category != nil && !params.Category.Valid() {
		return nil, 0, apperror.ErrInvalidCategory()
	}
	if _, err := s.account(ctx, params.AccountID); err != nil {
		return nil, 0, err
	}

	entries, total, err := s.ledger.ListByAccount(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(err)
	}
	return entries, total, nil
}

// ReferralStats reports how many accounts were referred and what that earned,
// both from the entries and from the cached counter.
func (s *reportingService) ReferralStats(ctx context.Context, accountID int64) (*domain.ReferralStats, error) {
	account, err := s.account(ctx, accountID)
	if err != nil {
		return nil, err
	}

	count, err := s.accounts.CountReferrals(ctx, accountID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	earned, err := s.ledger.SumByCategory(ctx, &accountID,
		[]domain.EntryCategory{domain.CategoryReferralBonus, domain.CategoryReferralCommission})
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	return &domain.ReferralStats{
		AccountID:        accountID,
		ReferredCount:    count,
		EarnedFromLedger: earned,
		EarnedCached:     account.ReferralEarnings,
	}, nil
}

// CheckBalance compares the cached balance with the sum of ledger entries.
func (s *reportingService) CheckBalance(ctx context.Context, accountID int64) (*domain.BalanceCheck, error) {
	account, err := s.account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	sum, err := s.ledger.SumByAccount(ctx, accountID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	return &domain.BalanceCheck{
		AccountID:  accountID,
		Cached:     account.Balance,
		LedgerSum:  sum,
		Drift:      account.Balance - sum,
		Consistent: account.Balance == sum,
	}, nil
}

// SystemStats returns population and flow totals across all accounts.
func (s *reportingService) SystemStats(ctx context.Context) (*domain.SystemStats, error) {
	counts, err := s.accounts.Counts(ctx)
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	deposits, err := s.ledger.SumByCategory(ctx, nil, []domain.EntryCategory{domain.CategoryDeposit})
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	referral, err := s.ledger.SumByCategory(ctx, nil,
		[]domain.EntryCategory{domain.CategoryReferralBonus, domain.CategoryReferralCommission})
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	swept, err := s.ledger.SumByCategory(ctx, nil, []domain.EntryCategory{domain.CategorySweep})
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	return &domain.SystemStats{
		Accounts:              counts.Total,
		AccountsWithAddress:   counts.WithAddress,
		TotalDeposits:         deposits,
		TotalReferralEarnings: referral,
		// Sweep entries are negative debits.
		TotalSwept: -swept,
	}, nil
}

func (s *reportingService) account(ctx context.Context, accountID int64) (*domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get account: %w", err))
	}
	if account == nil {
		return nil, apperror.ErrNotFound("account")
	}
	return account, nil
}
