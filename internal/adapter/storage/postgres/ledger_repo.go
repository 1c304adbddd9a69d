package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deposit-ledger/internal/core/domain"
	"deposit-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

// LedgerRepo implements ports.LedgerRepository.
type LedgerRepo struct {
	pool Pool
}

// NewLedgerRepo creates a new LedgerRepo.
func NewLedgerRepo(pool Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// Insert appends an entry within a database transaction. A duplicate tag is
// absorbed by ON CONFLICT so the surrounding transaction stays usable.
func (r *LedgerRepo) Insert(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) (bool, error) {
	query := `INSERT INTO ledger_entries (account_id, tag, amount, category, order_ref, chain_amount)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tag) DO NOTHING
		RETURNING id, created_at`

	err := tx.QueryRow(ctx, query,
		e.AccountID, e.Tag, e.Amount, string(e.Category), e.OrderRef, e.ChainAmount,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}
	return true, nil
}

// ExistsByTag reports whether an entry with the tag has been recorded.
func (r *LedgerRepo) ExistsByTag(ctx context.Context, tag string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE tag = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, tag).Scan(&exists); err != nil {
		return false, fmt.Errorf("check ledger tag: %w", err)
	}
	return exists, nil
}

// ListByAccount fetches an account's entries, newest first, with pagination.
func (r *LedgerRepo) ListByAccount(ctx context.Context, params ports.EntryListParams) ([]domain.LedgerEntry, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("account_id = $%d", argIdx))
	args = append(args, params.AccountID)
	argIdx++

	if params.Category != nil {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argIdx))
		args = append(args, string(*params.Category))
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM ledger_entries %s", where)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ledger entries: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT id, account_id, tag, amount, category, order_ref, chain_amount, created_at
		FROM ledger_entries %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(
			&e.ID, &e.AccountID, &e.Tag, &e.Amount, &e.Category,
			&e.OrderRef, &e.ChainAmount, &e.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan ledger row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return entries, total, nil
}

// SumByAccount totals every entry of the account.
func (r *LedgerRepo) SumByAccount(ctx context.Context, accountID int64) (int64, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1`

	var sum int64
	if err := r.pool.QueryRow(ctx, query, accountID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum ledger entries: %w", err)
	}
	return sum, nil
}

// SumByCategory totals entries of the given categories, optionally for one account.
func (r *LedgerRepo) SumByCategory(ctx context.Context, accountID *int64, categories []domain.EntryCategory) (int64, error) {
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = string(c)
	}

	query := `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE category = ANY($1)`
	args := []any{names}
	if accountID != nil {
		query += ` AND account_id = $2`
		args = append(args, *accountID)
	}

	var sum int64
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum ledger by category: %w", err)
	}
	return sum, nil
}
