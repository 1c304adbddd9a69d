// Package memory provides process-local implementations of the repository
// ports. It backs the "memory" storage driver and end-to-end service tests.
package memory

import (
	"sync"

	"deposit-ledger/internal/core/domain"
)

// Store holds all tables. Transactions are serialized through txMu; reads
// outside a transaction take mu only.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	accounts      map[int64]*domain.Account
	byExternal    map[int64]int64
	byAddress     map[string]int64
	nextAccountID int64

	entries     []domain.LedgerEntry
	tags        map[string]struct{}
	nextEntryID int64

	keypairs map[int64]domain.KeystoreRecord
	settings map[string]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		accounts:   make(map[int64]*domain.Account),
		byExternal: make(map[int64]int64),
		byAddress:  make(map[string]int64),
		tags:       make(map[string]struct{}),
		keypairs:   make(map[int64]domain.KeystoreRecord),
		settings:   make(map[string]string),
	}
}

// Accounts returns the account repository view of the store.
func (s *Store) Accounts() *AccountRepo { return &AccountRepo{s: s} }

// Ledger returns the ledger repository view of the store.
func (s *Store) Ledger() *LedgerRepo { return &LedgerRepo{s: s} }

// Keystore returns the keystore repository view of the store.
func (s *Store) Keystore() *KeystoreRepo { return &KeystoreRepo{s: s} }

// Settings returns the settings repository view of the store.
func (s *Store) Settings() *SettingsRepo { return &SettingsRepo{s: s} }

// Transactor returns a transactor bound to the store.
func (s *Store) Transactor() *Transactor { return &Transactor{s: s} }

func copyAccount(a *domain.Account) *domain.Account {
	c := *a
	if a.DepositAddress != nil {
		addr := *a.DepositAddress
		c.DepositAddress = &addr
	}
	if a.ReferrerID != nil {
		ref := *a.ReferrerID
		c.ReferrerID = &ref
	}
	return &c
}
