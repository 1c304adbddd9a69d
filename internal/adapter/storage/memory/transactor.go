package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var errUnsupported = errors.New("memory: raw SQL is not supported")

// Transactor implements ports.DBTransactor. Only one transaction runs at a
// time; changes made inside it are undone on Rollback.
type Transactor struct {
	s *Store
}

// Begin waits for the running transaction to finish and starts a new one.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	locked := make(chan struct{})
	go func() {
		t.s.txMu.Lock()
		close(locked)
	}()

	select {
	case <-locked:
		return &memTx{s: t.s}, nil
	case <-ctx.Done():
		// Hand the lock back once the waiter gets it.
		go func() {
			<-locked
			t.s.txMu.Unlock()
		}()
		return nil, ctx.Err()
	}
}

// memTx records undo actions for every change made through it.
type memTx struct {
	s    *Store
	once sync.Once
	undo []func()
}

func (t *memTx) record(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *memTx) finish(rollback bool) {
	t.once.Do(func() {
		if rollback {
			t.s.mu.Lock()
			for i := len(t.undo) - 1; i >= 0; i-- {
				t.undo[i]()
			}
			t.s.mu.Unlock()
		}
		t.undo = nil
		t.s.txMu.Unlock()
	})
}

func (t *memTx) Commit(ctx context.Context) error {
	t.finish(false)
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.finish(true)
	return nil
}

func (t *memTx) Begin(ctx context.Context) (pgx.Tx, error) { return nil, errUnsupported }
func (t *memTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errUnsupported
}
func (t *memTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *memTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, errUnsupported
}
func (t *memTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errUnsupported
}
func (t *memTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errUnsupported
}
func (t *memTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return errRow{}
}
func (t *memTx) Conn() *pgx.Conn { return nil }

type errRow struct{}

func (errRow) Scan(dest ...any) error { return errUnsupported }

// recordUndo registers fn on tx when tx belongs to this package.
func recordUndo(tx pgx.Tx, fn func()) {
	if mt, ok := tx.(*memTx); ok {
		mt.record(fn)
	}
}
