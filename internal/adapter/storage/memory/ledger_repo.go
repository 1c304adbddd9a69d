package memory

import (
	"context"
	"sort"
	"time"

	"deposit-ledger/internal/core/domain"
	"deposit-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

// LedgerRepo implements ports.LedgerRepository.
type LedgerRepo struct {
	s *Store
}

func (r *LedgerRepo) Insert(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, dup := r.s.tags[e.Tag]; dup {
		return false, nil
	}
	if _, ok := r.s.accounts[e.AccountID]; !ok {
		return false, domain.ErrAccountNotFound
	}
	r.s.nextEntryID++
	e.ID = r.s.nextEntryID
	e.CreatedAt = time.Now().UTC()

	r.s.entries = append(r.s.entries, *e)
	r.s.tags[e.Tag] = struct{}{}

	id, tag := e.ID, e.Tag
	recordUndo(tx, func() {
		delete(r.s.tags, tag)
		for i := len(r.s.entries) - 1; i >= 0; i-- {
			if r.s.entries[i].ID == id {
				r.s.entries = append(r.s.entries[:i], r.s.entries[i+1:]...)
				break
			}
		}
	})
	return true, nil
}

func (r *LedgerRepo) ExistsByTag(ctx context.Context, tag string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.tags[tag]
	return ok, nil
}

func (r *LedgerRepo) ListByAccount(ctx context.Context, params ports.EntryListParams) ([]domain.LedgerEntry, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var matched []domain.LedgerEntry
	for _, e := range r.s.entries {
		if e.AccountID != params.AccountID {
			continue
		}
		if params.Category != nil && e.Category != *params.Category {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := int64(len(matched))
	start := (params.Page - 1) * params.PageSize
	if start < 0 || start >= len(matched) {
		return nil, total, nil
	}
	end := start + params.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r *LedgerRepo) SumByAccount(ctx context.Context, accountID int64) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var sum int64
	for _, e := range r.s.entries {
		if e.AccountID == accountID {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (r *LedgerRepo) SumByCategory(ctx context.Context, accountID *int64, categories []domain.EntryCategory) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	want := make(map[domain.EntryCategory]bool, len(categories))
	for _, c := range categories {
		want[c] = true
	}
	var sum int64
	for _, e := range r.s.entries {
		if accountID != nil && e.AccountID != *accountID {
			continue
		}
		if want[e.Category] {
			sum += e.Amount
		}
	}
	return sum, nil
}
