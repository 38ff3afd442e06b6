package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pocketmoney/internal/core"
	"pocketmoney/internal/storage"
)

// finishTimeout bounds the write of a run's final status.
const finishTimeout = 10 * time.Second

// DefaultUnitRate is the allowance per year of age.
var DefaultUnitRate = decimal.RequireFromString("0.5")

// PayoutProcessor credits the age-based allowance to every eligible child.
// A run holds no state of its own: everything it needs to know about earlier
// runs is read back from the ledger.
type PayoutProcessor struct {
	store    *storage.Store
	ledger   *LedgerService
	rate     decimal.Decimal
	window   CycleWindow
	location *time.Location
}

// NewPayoutProcessor creates a processor. A nil window means weekly, a nil
// location means UTC.
func NewPayoutProcessor(store *storage.Store, ledger *LedgerService, rate decimal.Decimal, window CycleWindow, location *time.Location) *PayoutProcessor {
	if window == nil {
		window = WeeklyWindow{}
	}
	if location == nil {
		location = time.UTC
	}
	return &PayoutProcessor{
		store:    store,
		ledger:   ledger,
		rate:     rate,
		window:   window,
		location: location,
	}
}

// Run executes one payout cycle as a single database transaction. Children
// already paid in the cycle window containing now are skipped, so running
// twice in the same window pays once. On failure nothing is credited and the
// run is recorded as failed.
func (p *PayoutProcessor) Run(ctx context.Context, now time.Time) (core.PayoutResult, error) {
	if p.store == nil || p.ledger == nil {
		return core.PayoutResult{}, fmt.Errorf("processor not properly initialized")
	}

	local := now.In(p.location)
	run := core.PayoutRun{
		ID:        uuid.NewString(),
		CycleKey:  p.window.Key(local),
		StartedAt: now,
		Status:    core.PayoutStatusRunning,
	}
	if err := p.store.InsertPayoutRun(ctx, run); err != nil {
		return core.PayoutResult{}, fmt.Errorf("record payout run: %w", err)
	}

	slog.InfoContext(ctx, "Processing payouts",
		"run_id", run.ID,
		"cycle", run.CycleKey,
		"unit_rate", p.rate.String())

	result := core.PayoutResult{Credited: []core.Transaction{}, Skipped: []int64{}}
	var receipts []Receipt

	err := p.store.WithTx(ctx, func(q *storage.Queries) error {
		children, err := q.ListChildren(ctx)
		if err != nil {
			return fmt.Errorf("load children: %w", err)
		}

		paidIDs, err := q.ListPaidChildIDs(ctx, run.CycleKey)
		if err != nil {
			return fmt.Errorf("load paid children: %w", err)
		}
		paid := make(map[int64]bool, len(paidIDs))
		for _, id := range paidIDs {
			paid[id] = true
		}

		for _, child := range children {
			if child.BirthDate == nil {
				continue
			}
			age := core.Age(child.BirthDate, local)
			amount := core.MulRate(age, p.rate)
			if !amount.IsPositive() {
				continue
			}
			if paid[child.ID] {
				result.Skipped = append(result.Skipped, child.ID)
				continue
			}

			desc := fmt.Sprintf("%s Pocket Money (Age %d)", p.window.Label(), age)
			r, err := p.ledger.credit(ctx, q, child.ID, amount, desc, core.CategoryPocketMoney, run.CycleKey)
			if err != nil {
				return fmt.Errorf("credit child %d: %w", child.ID, err)
			}
			receipts = append(receipts, r)
		}
		return nil
	})

	finished := p.ledger.now()
	if err != nil {
		run.Status = core.PayoutStatusFailed
		run.Error = err.Error()
		run.FinishedAt = &finished
		if finErr := p.finish(ctx, run); finErr != nil {
			slog.ErrorContext(ctx, "Failed to record failed payout run", "run_id", run.ID, "error", finErr)
		}
		slog.ErrorContext(ctx, "Payout run failed, nothing credited",
			"run_id", run.ID,
			"cycle", run.CycleKey,
			"error", err)
		return core.PayoutResult{Run: run}, fmt.Errorf("payout run %s: %w", run.CycleKey, err)
	}

	for _, r := range receipts {
		result.Credited = append(result.Credited, r.Transaction)
		run.Total = run.Total.Add(r.Transaction.Amount)
	}
	run.ChildrenPaid = len(receipts)
	run.Status = core.PayoutStatusCommitted
	run.FinishedAt = &finished
	if err := p.finish(ctx, run); err != nil {
		// The credits are committed; only the audit row is stale.
		slog.ErrorContext(ctx, "Failed to record payout run", "run_id", run.ID, "error", err)
	}
	result.Run = run

	for _, r := range receipts {
		p.ledger.publish(ctx, r)
	}

	slog.InfoContext(ctx, "Payout processing complete",
		"run_id", run.ID,
		"cycle", run.CycleKey,
		"children_paid", run.ChildrenPaid,
		"already_paid", len(result.Skipped),
		"total_cents", run.Total.Cents)

	return result, nil
}

// Runs lists recent payout runs, newest first.
func (p *PayoutProcessor) Runs(ctx context.Context, limit int) ([]core.PayoutRun, error) {
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = DefaultHistoryLimit
	}
	runs, err := p.store.ListPayoutRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list payout runs: %w", err)
	}
	if runs == nil {
		runs = []core.PayoutRun{}
	}
	return runs, nil
}

// finish records the outcome of run. It outlives ctx, so a run cut short by
// a deadline or a disconnected caller is not left marked running.
func (p *PayoutProcessor) finish(ctx context.Context, run core.PayoutRun) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	return p.store.FinishPayoutRun(ctx, storage.FinishPayoutRunParams{
		ID:           run.ID,
		Status:       run.Status,
		ChildrenPaid: run.ChildrenPaid,
		TotalCents:   run.Total.Cents,
		Error:        run.Error,
		FinishedAt:   *run.FinishedAt,
	})
}
