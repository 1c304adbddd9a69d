package ports

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

import (
	"context"

	"deposit-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// AccountRepository defines persistence operations for accounts.
// Methods accepting pgx.Tx run inside the caller's transaction.
type AccountRepository interface {
	// Create inserts the account and fills its ID. Returns false if the external id already exists.
	Create(ctx context.Context, account *domain.Account) (bool, error)
	GetByID(ctx context.Context, id int64) (*domain.Account, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.Account, error)
	GetByExternalID(ctx context.Context, externalID int64) (*domain.Account, error)
	GetByAddress(ctx context.Context, address string) (*domain.Account, error)
	// ListWithAddress pages through accounts that have a receiving address, ordered by id.
	ListWithAddress(ctx context.Context, afterID int64, limit int) ([]domain.Account, error)
	// AssignAddress sets the address only if none is set yet. Returns false otherwise.
	AssignAddress(ctx context.Context, id int64, address string) (bool, error)
	// AdjustBalance applies delta atomically and returns the new balance.
	// Returns domain.ErrInsufficientBalance if the result would be negative.
	AdjustBalance(ctx context.Context, tx pgx.Tx, id int64, delta int64) (int64, error)
	AddReferralEarnings(ctx context.Context, tx pgx.Tx, id int64, amount int64) error
	CountReferrals(ctx context.Context, id int64) (int64, error)
	Counts(ctx context.Context) (*AccountCounts, error)
}

// AccountCounts holds population counters.
type AccountCounts struct {
	Total       int64
	WithAddress int64
}

// LedgerRepository defines persistence for append-only ledger entries.
type LedgerRepository interface {
	// Insert appends the entry. Returns false if an entry with the same tag exists.
	Insert(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) (bool, error)
	ExistsByTag(ctx context.Context, tag string) (bool, error)
	ListByAccount(ctx context.Context, params EntryListParams) ([]domain.LedgerEntry, int64, error)
	SumByAccount(ctx context.Context, accountID int64) (int64, error)
	// SumByCategory totals entries of the given categories; nil accountID means all accounts.
	SumByCategory(ctx context.Context, accountID *int64, categories []domain.EntryCategory) (int64, error)
}

// EntryListParams holds filter + pagination for account statements.
type EntryListParams struct {
	AccountID int64
	Category  *domain.EntryCategory
	Page      int
	PageSize  int
}

// KeystoreRepository is the durable, authoritative store of receiving keypairs.
type KeystoreRepository interface {
	// Insert stores the record unless the account already has one. Returns false in that case.
	Insert(ctx context.Context, record *domain.KeystoreRecord) (bool, error)
	Get(ctx context.Context, accountID int64) (*domain.KeystoreRecord, error)
	List(ctx context.Context) ([]domain.KeystoreRecord, error)
}

// SettingsRepository is a key/value store for tunable percentages.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	All(ctx context.Context) (map[string]string, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
