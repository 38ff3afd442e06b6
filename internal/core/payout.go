package core

import "time"

// Payout run states. A run is either committed as a whole or recorded as failed.
const (
	PayoutStatusRunning   = "running"
	PayoutStatusCommitted = "committed"
	PayoutStatusFailed    = "failed"
)

// PayoutRun is the audit record of one scheduler invocation.
type PayoutRun struct {
	ID           string     `json:"id"`
	CycleKey     string     `json:"cycle_key"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       string     `json:"status"`
	ChildrenPaid int        `json:"children_paid"`
	Total        Money      `json:"total"`
	Error        string     `json:"error,omitempty"`
}

// PayoutResult summarises what a run credited.
type PayoutResult struct {
	Run      PayoutRun     `json:"run"`
	Credited []Transaction `json:"credited"`
	Skipped  []int64       `json:"skipped_child_ids"`
}
