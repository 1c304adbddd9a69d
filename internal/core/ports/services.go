package ports

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

import (
	"context"
	"time"

	"deposit-ledger/internal/core/domain"

	"github.com/shopspring/decimal"
)

// EncryptionService handles AES-256-GCM encryption/decryption of key material.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// TokenService handles operator JWT tokens.
type TokenService interface {
	Generate(operator string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Operator string
}

// ProcessedSignatureCache is the Redis-layer dedupe check (fast path only).
// The ledger's unique tag constraint stays authoritative.
type ProcessedSignatureCache interface {
	Seen(ctx context.Context, signature string) (bool, error)
	Mark(ctx context.Context, signature string, ttl time.Duration) error
}

// LockStore provides short-lived cross-process locks.
type LockStore interface {
	// Acquire returns a release token and true when the lock was taken.
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key string, token string) error
}

// NotificationQueue accepts notifications for asynchronous delivery.
type NotificationQueue interface {
	// Enqueue returns false when the notification was dropped.
	Enqueue(n domain.Notification) bool
}

// BalanceReconciler decides how much of a swept amount leaves the internal balance.
type BalanceReconciler interface {
	Name() string
	Reconcile(internalBalance int64, swept uint64) int64
}

// --- Service Ports (Business Logic) ---

// AddressRegistry maps accounts to unique receiving addresses.
type AddressRegistry interface {
	GetOrCreateAddress(ctx context.Context, accountID int64) (string, error)
	Keypair(ctx context.Context, accountID int64) (*domain.Keypair, error)
}

// TransferObserver polls the chain for an address's transfer history.
type TransferObserver interface {
	RecentTransfers(ctx context.Context, address string, q domain.HistoryQuery) ([]domain.TransferRecord, error)
	FetchTransferDetail(ctx context.Context, signature string, address string) (*domain.TransferDetail, error)
}

// DepositAttributor turns a chain transfer into at most one ledger credit.
type DepositAttributor interface {
	Attribute(ctx context.Context, signature string, account *domain.Account, address string) domain.AttributionOutcome
}

// LedgerService holds the balance-affecting operations used by the bot and API glue.
type LedgerService interface {
	EnsureAccount(ctx context.Context, externalID int64, referrerExternalID *int64) (*domain.Account, error)
	GetAccount(ctx context.Context, accountID int64) (*domain.Account, error)
	GetBalance(ctx context.Context, accountID int64) (int64, error)
	Credit(ctx context.Context, req EntryRequest) (*PostingResult, error)
	Debit(ctx context.Context, req EntryRequest) (*PostingResult, error)
	ApplyDeposit(ctx context.Context, account *domain.Account, signature string, amount int64) (*DepositResult, error)
	Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error)
}

// EntryRequest describes a single categorised balance change. Amount is positive;
// the operation decides the sign.
type EntryRequest struct {
	AccountID int64
	Amount    int64
	Category  domain.EntryCategory
	Tag       string
	OrderRef  *string
}

// PostingResult is the outcome of Credit/Debit.
type PostingResult struct {
	Entry   domain.LedgerEntry
	Balance int64
}

// DepositResult is the outcome of ApplyDeposit. Applied is false when the
// signature had already been recorded.
type DepositResult struct {
	Applied       bool
	Amount        int64
	Balance       int64
	ReferralBonus int64
	ReferrerID    *int64
}

// PurchaseRequest holds validated input for a balance purchase.
type PurchaseRequest struct {
	AccountID int64
	OrderRef  string
	UnitPrice int64
	Quantity  int64
}

// PurchaseResult reports the charge and any referrer commission.
type PurchaseResult struct {
	Charged    int64
	Discount   int64
	Balance    int64
	Commission int64
	ReferrerID *int64
}

// SweepAgent relocates custodial funds to the treasury.
type SweepAgent interface {
	Sweep(ctx context.Context, accountID int64, minRetain uint64) (*domain.SweepResult, error)
	SweepAll(ctx context.Context, minRetain uint64) (*domain.BatchSweepResult, error)
}

// SettingsService exposes typed access to settings with defaults.
type SettingsService interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	All(ctx context.Context) (map[string]string, error)
	Percent(ctx context.Context, key string) decimal.Decimal
}

// ReportingService defines statements and ledger health reports.
type ReportingService interface {
	Statement(ctx context.Context, params EntryListParams) ([]domain.LedgerEntry, int64, error)
	ReferralStats(ctx context.Context, accountID int64) (*domain.ReferralStats, error)
	CheckBalance(ctx context.Context, accountID int64) (*domain.BalanceCheck, error)
	SystemStats(ctx context.Context) (*domain.SystemStats, error)
}
