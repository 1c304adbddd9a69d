package postgres

import (
	"context"
	"testing"
	"time"

	"deposit-ledger/internal/core/domain"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeystoreRepo_Insert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewKeystoreRepo(mock)
	rec := &domain.KeystoreRecord{AccountID: 42, PublicKey: "pub", EncryptedPrivateKey: "enc", CreatedAt: time.Now().UTC()}

	mock.ExpectExec("INSERT INTO keypairs .+ ON CONFLICT \\(account_id\\) DO NOTHING").
		WithArgs(rec.AccountID, rec.PublicKey, rec.EncryptedPrivateKey, rec.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO keypairs").
		WithArgs(rec.AccountID, rec.PublicKey, rec.EncryptedPrivateKey, rec.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	ok, err := repo.Insert(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Insert(context.Background(), rec)
	require.NoError(t, err)
	assert.False(t, ok, "second insert for the same account must not overwrite")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeystoreRepo_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewKeystoreRepo(mock)
	now := time.Now().UTC()
	cols := []string{"account_id", "public_key", "encrypted_private_key", "created_at"}

	mock.ExpectQuery("SELECT .+ FROM keypairs WHERE account_id").
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(int64(42), "pub", "enc", now))
	mock.ExpectQuery("SELECT .+ FROM keypairs WHERE account_id").
		WithArgs(int64(43)).
		WillReturnRows(pgxmock.NewRows(cols))

	rec, err := repo.Get(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "pub", rec.PublicKey)

	rec, err = repo.Get(context.Background(), 43)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeystoreRepo_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewKeystoreRepo(mock)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM keypairs ORDER BY account_id").
		WillReturnRows(pgxmock.NewRows([]string{"account_id", "public_key", "encrypted_private_key", "created_at"}).
			AddRow(int64(1), "pubA", "encA", now).
			AddRow(int64(2), "pubB", "encB", now))

	records, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "pubB", records[1].PublicKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}
