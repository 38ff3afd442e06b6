package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"pocketmoney/internal/cache"
	"pocketmoney/internal/events"
	pmlog "pocketmoney/internal/log"
	"pocketmoney/internal/sheets"
)

const (
	// DefaultSeenCapacity bounds how many recent event ids are remembered
	// for duplicate suppression.
	DefaultSeenCapacity = 10000
	seenTTL             = 7 * 24 * time.Hour

	defaultAttempts   = 3
	defaultRetryDelay = 500 * time.Millisecond
)

// SyncWorker mirrors committed ledger events into a LedgerMirror. Brokers
// deliver at least once, so every event id is written at most once per
// remembered window.
type SyncWorker struct {
	mirror sheets.LedgerMirror
	index  sheets.EventIndex
	seen   *cache.LRUCache[struct{}]
	logger *pmlog.Logger
	audit  *pmlog.StructuredLogger

	attempts   int
	retryDelay time.Duration

	mirrored atomic.Int64
	skipped  atomic.Int64
}

// Stats counts what the worker has done since it started.
type Stats struct {
	Mirrored   int64
	Skipped    int64
	Remembered int
}

// NewSyncWorker creates a worker. index may be nil, in which case nothing is
// preloaded on startup.
func NewSyncWorker(mirror sheets.LedgerMirror, index sheets.EventIndex, seenCapacity int, logger *pmlog.Logger) *SyncWorker {
	if seenCapacity <= 0 {
		seenCapacity = DefaultSeenCapacity
	}
	if logger == nil {
		logger = pmlog.New(pmlog.DefaultConfig())
	}
	logger = logger.WithComponent(pmlog.ComponentWorker)
	return &SyncWorker{
		mirror:     mirror,
		index:      index,
		seen:       cache.NewLRUCache[struct{}](seenCapacity, seenTTL),
		logger:     logger,
		audit:      pmlog.NewStructuredLogger(logger),
		attempts:   defaultAttempts,
		retryDelay: defaultRetryDelay,
	}
}

// HandleLedgerEvent writes one event to the mirror. A returned error means
// the broker should redeliver; malformed events are logged and dropped.
func (w *SyncWorker) HandleLedgerEvent(ctx context.Context, ev events.LedgerEvent) error {
	row := sheets.RowFromEvent(ev)
	if err := row.Validate(); err != nil {
		w.audit.LogRejected(ctx, pmlog.OpMirror, pmlog.ErrorTypeValidation, err,
			pmlog.NewFields().WithEventID(ev.ID).WithChild(ev.ChildID))
		return nil
	}

	if !w.seen.Add(ev.ID, struct{}{}) {
		w.skipped.Add(1)
		w.logger.DebugContext(ctx, "Skipping already mirrored ledger event",
			pmlog.FieldEventID, ev.ID,
			pmlog.FieldChildID, ev.ChildID)
		return nil
	}

	ref, err := w.appendWithRetry(ctx, row)
	if err != nil {
		// Forget the id so the redelivery is not mistaken for a duplicate.
		w.seen.Delete(ev.ID)
		w.audit.LogError(ctx, "Failed to mirror ledger event", err, pmlog.ComponentWorker, pmlog.OpMirror,
			pmlog.NewFields().WithEventID(ev.ID).WithChild(ev.ChildID))
		return fmt.Errorf("append to mirror: %w", err)
	}

	w.mirrored.Add(1)
	w.logger.InfoContext(ctx, "Mirrored ledger event",
		pmlog.FieldEventID, ev.ID,
		pmlog.FieldChildID, ev.ChildID,
		pmlog.FieldTransactionID, ev.Transaction.ID,
		pmlog.FieldAmountCents, ev.Transaction.Amount.Cents,
		pmlog.FieldCategory, ev.Transaction.Category,
		"sheets_ref", ref)
	return nil
}

func (w *SyncWorker) appendWithRetry(ctx context.Context, row sheets.LedgerRow) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		ref, err := w.mirror.AppendLedgerRow(ctx, row)
		if err == nil {
			return ref, nil
		}
		lastErr = err
		if errors.Is(err, sheets.ErrMissingEventID) || errors.Is(err, sheets.ErrMissingChild) {
			break
		}
		if attempt == w.attempts {
			break
		}
		w.logger.WarnContext(ctx, "Mirror append failed, retrying",
			pmlog.FieldEventID, row.EventID,
			"attempt", attempt,
			pmlog.FieldError, err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(w.retryDelay * time.Duration(attempt)):
		}
	}
	return "", lastErr
}

// StartupSyncCheck loads the event ids already in the mirror for this year
// and the previous one, so redeliveries after a restart are skipped. Events
// older than that are assumed settled.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context, now time.Time) (int, error) {
	if w.index == nil {
		w.logger.InfoContext(ctx, "No mirror index configured, skipping startup check")
		return 0, nil
	}

	loaded := 0
	year := now.UTC().Year()
	for _, y := range []int{year - 1, year} {
		ids, err := w.index.MirroredEventIDs(ctx, y)
		if err != nil {
			return loaded, fmt.Errorf("read mirrored event ids for %d: %w", y, err)
		}
		for _, id := range ids {
			if w.seen.Add(id, struct{}{}) {
				loaded++
			}
		}
	}

	w.logger.InfoContext(ctx, "Startup sync check completed",
		"known_events", loaded)
	return loaded, nil
}

func (w *SyncWorker) Stats() Stats {
	return Stats{
		Mirrored:   w.mirrored.Load(),
		Skipped:    w.skipped.Load(),
		Remembered: w.seen.Size(),
	}
}
