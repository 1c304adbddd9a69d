package postgres

import (
	"context"
	"errors"
	"fmt"

	"deposit-ledger/internal/core/domain"
	"deposit-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

const accountColumns = `id, external_id, balance, deposit_address, referrer_id, referral_earnings, created_at, updated_at`

// AccountRepo implements ports.AccountRepository.
type AccountRepo struct {
	pool Pool
}

// NewAccountRepo creates a new AccountRepo.
func NewAccountRepo(pool Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

// Create inserts a new account. The external id is unique; a second insert
// for the same id leaves the row untouched and reports false.
func (r *AccountRepo) Create(ctx context.Context, a *domain.Account) (bool, error) {
	query := `INSERT INTO accounts (external_id, referrer_id)
		VALUES ($1, $2)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING id, balance, referral_earnings, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query, a.ExternalID, a.ReferrerID).Scan(
		&a.ID, &a.Balance, &a.ReferralEarnings, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert account: %w", err)
	}
	return true, nil
}

// GetByID fetches an account by id (without locking).
func (r *AccountRepo) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches an account with a row lock.
// This MUST be called within a transaction.
func (r *AccountRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
	return scanAccount(tx.QueryRow(ctx, query, id))
}

// GetByExternalID fetches an account by its messaging platform id.
func (r *AccountRepo) GetByExternalID(ctx context.Context, externalID int64) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE external_id = $1`
	return scanAccount(r.pool.QueryRow(ctx, query, externalID))
}

// GetByAddress fetches the account owning a receiving address.
func (r *AccountRepo) GetByAddress(ctx context.Context, address string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE deposit_address = $1`
	return scanAccount(r.pool.QueryRow(ctx, query, address))
}

// ListWithAddress returns up to limit accounts with an address and id > afterID.
func (r *AccountRepo) ListWithAddress(ctx context.Context, afterID int64, limit int) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts
		WHERE deposit_address IS NOT NULL AND id > $1
		ORDER BY id LIMIT $2`

	rows, err := r.pool.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list accounts with address: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(
			&a.ID, &a.ExternalID, &a.Balance, &a.DepositAddress,
			&a.ReferrerID, &a.ReferralEarnings, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account rows: %w", err)
	}
	return accounts, nil
}

// AssignAddress records the receiving address once. It returns false when the
// account already has one or does not exist.
func (r *AccountRepo) AssignAddress(ctx context.Context, id int64, address string) (bool, error) {
	query := `UPDATE accounts SET deposit_address = $2, updated_at = NOW()
		WHERE id = $1 AND deposit_address IS NULL`

	tag, err := r.pool.Exec(ctx, query, id, address)
	if err != nil {
		return false, fmt.Errorf("assign address: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AdjustBalance applies delta in a single statement so concurrent postings
// never lose an update.
func (r *AccountRepo) AdjustBalance(ctx context.Context, tx pgx.Tx, id int64, delta int64) (int64, error) {
	query := `UPDATE accounts SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1 AND balance + $2 >= 0
		RETURNING balance`

	var balance int64
	err := tx.QueryRow(ctx, query, id, delta).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("adjust balance: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check account exists: %w", err)
	}
	if !exists {
		return 0, domain.ErrAccountNotFound
	}
	return 0, domain.ErrInsufficientBalance
}

// AddReferralEarnings increments the cached referral earnings counter.
func (r *AccountRepo) AddReferralEarnings(ctx context.Context, tx pgx.Tx, id int64, amount int64) error {
	query := `UPDATE accounts SET referral_earnings = referral_earnings + $2, updated_at = NOW() WHERE id = $1`

	tag, err := tx.Exec(ctx, query, id, amount)
	if err != nil {
		return fmt.Errorf("add referral earnings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// CountReferrals counts accounts referred by id, excluding self-referral.
func (r *AccountRepo) CountReferrals(ctx context.Context, id int64) (int64, error) {
	query := `SELECT COUNT(*) FROM accounts WHERE referrer_id = $1 AND id <> $1`

	var n int64
	if err := r.pool.QueryRow(ctx, query, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("count referrals: %w", err)
	}
	return n, nil
}

// Counts returns population counters.
func (r *AccountRepo) Counts(ctx context.Context) (*ports.AccountCounts, error) {
	query := `SELECT COUNT(*), COUNT(deposit_address) FROM accounts`

	c := &ports.AccountCounts{}
	if err := r.pool.QueryRow(ctx, query).Scan(&c.Total, &c.WithAddress); err != nil {
		return nil, fmt.Errorf("count accounts: %w", err)
	}
	return c, nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	a := &domain.Account{}
	err := row.Scan(
		&a.ID, &a.ExternalID, &a.Balance, &a.DepositAddress,
		&a.ReferrerID, &a.ReferralEarnings, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return a, nil
}
