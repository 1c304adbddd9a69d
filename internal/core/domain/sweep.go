package domain

import "time"

// SweepStatus is the per-account result of a sweep.
type SweepStatus string

const (
	SweepStatusSwept   SweepStatus = "swept"
	SweepStatusSkipped SweepStatus = "skipped"
	SweepStatusFailed  SweepStatus = "failed"
)

// SweepResult reports one custodial-to-treasury transfer attempt.
type SweepResult struct {
	AccountID int64       `json:"account_id"`
	Address   string      `json:"address"`
	Status    SweepStatus `json:"status"`
	Lamports  uint64      `json:"lamports"` // Moved on chain
	Debited   int64       `json:"debited"`  // Removed from the internal balance
	Signature string      `json:"signature,omitempty"`
	Confirmed bool        `json:"confirmed"`
	Recorded  bool        `json:"recorded"`
	Reason    string      `json:"reason,omitempty"`
}

// BatchSweepResult aggregates a sweep over many accounts.
type BatchSweepResult struct {
	BatchID       string        `json:"batch_id"`
	Results       []SweepResult `json:"results"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	Skipped       int           `json:"skipped"`
	TotalLamports uint64        `json:"total_lamports"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// Add folds one result into the aggregate.
func (b *BatchSweepResult) Add(r SweepResult) {
	b.Results = append(b.Results, r)
	switch r.Status {
	case SweepStatusSwept:
		b.Succeeded++
		b.TotalLamports += r.Lamports
	case SweepStatusFailed:
		b.Failed++
	default:
		b.Skipped++
	}
}
