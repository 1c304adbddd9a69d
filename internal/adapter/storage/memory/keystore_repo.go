package memory

import (
	"context"
	"sort"

	"deposit-ledger/internal/core/domain"
)

// KeystoreRepo implements ports.KeystoreRepository.
type KeystoreRepo struct {
	s *Store
}

func (r *KeystoreRepo) Insert(ctx context.Context, rec *domain.KeystoreRecord) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.keypairs[rec.AccountID]; ok {
		return false, nil
	}
	r.s.keypairs[rec.AccountID] = *rec
	return true, nil
}

func (r *KeystoreRepo) Get(ctx context.Context, accountID int64) (*domain.KeystoreRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.keypairs[accountID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *KeystoreRepo) List(ctx context.Context) ([]domain.KeystoreRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.KeystoreRecord, 0, len(r.s.keypairs))
	for _, rec := range r.s.keypairs {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}
