package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// ledgerTxOptions applies to every balance mutation. Writers serialize on the
// account row through SELECT ... FOR UPDATE.
var ledgerTxOptions = pgx.TxOptions{
	IsoLevel:   pgx.ReadCommitted,
	AccessMode: pgx.ReadWrite,
}

// Transactor opens the read-write transactions that keep an account's cached
// balance and its ledger entries in step.
type Transactor struct {
	pool Pool
}

func NewTransactor(pool Pool) *Transactor {
	return &Transactor{pool: pool}
}

// Begin opens a ledger transaction. Callers defer Rollback and Commit on success.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return t.pool.BeginTx(ctx, ledgerTxOptions)
}
