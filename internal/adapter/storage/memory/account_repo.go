package memory

import (
	"context"
	"sort"
	"time"

	"deposit-ledger/internal/core/domain"
	"deposit-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

// AccountRepo implements ports.AccountRepository.
type AccountRepo struct {
	s *Store
}

func (r *AccountRepo) Create(ctx context.Context, a *domain.Account) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.byExternal[a.ExternalID]; ok {
		return false, nil
	}
	r.s.nextAccountID++
	now := time.Now().UTC()
	a.ID = r.s.nextAccountID
	a.Balance = 0
	a.ReferralEarnings = 0
	a.DepositAddress = nil
	a.CreatedAt = now
	a.UpdatedAt = now

	r.s.accounts[a.ID] = copyAccount(a)
	r.s.byExternal[a.ExternalID] = a.ID
	return true, nil
}

func (r *AccountRepo) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, nil
	}
	return copyAccount(a), nil
}

// GetByIDForUpdate needs no row lock: transactions are already serialized.
func (r *AccountRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.Account, error) {
	return r.GetByID(ctx, id)
}

func (r *AccountRepo) GetByExternalID(ctx context.Context, externalID int64) (*domain.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.byExternal[externalID]
	if !ok {
		return nil, nil
	}
	return copyAccount(r.s.accounts[id]), nil
}

func (r *AccountRepo) GetByAddress(ctx context.Context, address string) (*domain.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.byAddress[address]
	if !ok {
		return nil, nil
	}
	return copyAccount(r.s.accounts[id]), nil
}

func (r *AccountRepo) ListWithAddress(ctx context.Context, afterID int64, limit int) ([]domain.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.Account
	for _, a := range r.s.accounts {
		if a.ID > afterID && a.HasAddress() {
			out = append(out, *copyAccount(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *AccountRepo) AssignAddress(ctx context.Context, id int64, address string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[id]
	if !ok || a.HasAddress() {
		return false, nil
	}
	if _, taken := r.s.byAddress[address]; taken {
		return false, nil
	}
	addr := address
	a.DepositAddress = &addr
	a.UpdatedAt = time.Now().UTC()
	r.s.byAddress[address] = id
	return true, nil
}

func (r *AccountRepo) AdjustBalance(ctx context.Context, tx pgx.Tx, id int64, delta int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return 0, domain.ErrAccountNotFound
	}
	if a.Balance+delta < 0 {
		return 0, domain.ErrInsufficientBalance
	}
	a.Balance += delta
	a.UpdatedAt = time.Now().UTC()
	recordUndo(tx, func() { a.Balance -= delta })
	return a.Balance, nil
}

func (r *AccountRepo) AddReferralEarnings(ctx context.Context, tx pgx.Tx, id int64, amount int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	a.ReferralEarnings += amount
	recordUndo(tx, func() { a.ReferralEarnings -= amount })
	return nil
}

func (r *AccountRepo) CountReferrals(ctx context.Context, id int64) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var n int64
	for _, a := range r.s.accounts {
		if a.ReferrerID != nil && *a.ReferrerID == id && a.ID != id {
			n++
		}
	}
	return n, nil
}

func (r *AccountRepo) Counts(ctx context.Context) (*ports.AccountCounts, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	c := &ports.AccountCounts{Total: int64(len(r.s.accounts))}
	for _, a := range r.s.accounts {
		if a.HasAddress() {
			c.WithAddress++
		}
	}
	return c, nil
}
