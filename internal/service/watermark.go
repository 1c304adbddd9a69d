package service

import "sync"

// WatermarkStore holds the newest settled signature per account. It lives in
// process memory only: the ledger's signature dedupe covers a restart.
type WatermarkStore struct {
	mu        sync.RWMutex
	marks     map[int64]string
	backfills map[int64]backfill
}

// backfill tracks an account whose unseen history was longer than one cycle
// may walk. Later cycles continue below Before; Head is the watermark to
// install once everything older is settled.
type backfill struct {
	Before string
	Head   string
}

func NewWatermarkStore() *WatermarkStore {
	return &WatermarkStore{
		marks:     make(map[int64]string),
		backfills: make(map[int64]backfill),
	}
}

func (w *WatermarkStore) Get(accountID int64) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	sig, ok := w.marks[accountID]
	return sig, ok
}

func (w *WatermarkStore) Set(accountID int64, signature string) {
	w.mu.Lock()
	w.marks[accountID] = signature
	w.mu.Unlock()
}

func (w *WatermarkStore) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.marks)
}

func (w *WatermarkStore) resume(accountID int64) (backfill, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	b, ok := w.backfills[accountID]
	return b, ok
}

func (w *WatermarkStore) setResume(accountID int64, b backfill) {
	w.mu.Lock()
	w.backfills[accountID] = b
	w.mu.Unlock()
}

func (w *WatermarkStore) clearResume(accountID int64) {
	w.mu.Lock()
	delete(w.backfills, accountID)
	w.mu.Unlock()
}
