package postgres

import (
	"context"
	"errors"
	"fmt"

	"deposit-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// KeystoreRepo implements ports.KeystoreRepository.
type KeystoreRepo struct {
	pool Pool
}

// NewKeystoreRepo creates a new KeystoreRepo.
func NewKeystoreRepo(pool Pool) *KeystoreRepo {
	return &KeystoreRepo{pool: pool}
}

// Insert stores the keypair record; an existing record for the account wins.
func (r *KeystoreRepo) Insert(ctx context.Context, rec *domain.KeystoreRecord) (bool, error) {
	query := `INSERT INTO keypairs (account_id, public_key, encrypted_private_key, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query, rec.AccountID, rec.PublicKey, rec.EncryptedPrivateKey, rec.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert keypair: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get fetches the keypair record of an account.
func (r *KeystoreRepo) Get(ctx context.Context, accountID int64) (*domain.KeystoreRecord, error) {
	query := `SELECT account_id, public_key, encrypted_private_key, created_at FROM keypairs WHERE account_id = $1`

	rec := &domain.KeystoreRecord{}
	err := r.pool.QueryRow(ctx, query, accountID).Scan(
		&rec.AccountID, &rec.PublicKey, &rec.EncryptedPrivateKey, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get keypair: %w", err)
	}
	return rec, nil
}

// List returns every stored keypair record.
func (r *KeystoreRepo) List(ctx context.Context) ([]domain.KeystoreRecord, error) {
	query := `SELECT account_id, public_key, encrypted_private_key, created_at FROM keypairs ORDER BY account_id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list keypairs: %w", err)
	}
	defer rows.Close()

	var records []domain.KeystoreRecord
	for rows.Next() {
		var rec domain.KeystoreRecord
		if err := rows.Scan(&rec.AccountID, &rec.PublicKey, &rec.EncryptedPrivateKey, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan keypair row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keypair rows: %w", err)
	}
	return records, nil
}
