package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pocketmoney/internal/core"
	"pocketmoney/internal/events"
	pmlog "pocketmoney/internal/log"
	"pocketmoney/internal/storage"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100

	adjustDescription = "Manual Balance Adjustment"
	maxCASAttempts    = 3
)

// Receipt is what a balance-changing operation hands back: the recorded
// transaction and the balance right after it.
type Receipt struct {
	Transaction core.Transaction
	Balance     core.Money
}

// LedgerService is the only path allowed to change a child's balance. Every
// mutation updates the balance and appends the transaction in one database
// transaction, so the balance always equals the sum of the ledger.
type LedgerService struct {
	store     *storage.Store
	publisher events.Publisher
	now       func() time.Time
}

func NewLedgerService(store *storage.Store, publisher events.Publisher) *LedgerService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &LedgerService{
		store:     store,
		publisher: publisher,
		now:       time.Now,
	}
}

// SetClock overrides the time source used for timestamps.
func (s *LedgerService) SetClock(now func() time.Time) {
	s.now = now
}

// ---- children ----

// RegisterChild creates a child with a zero balance.
func (s *LedgerService) RegisterChild(ctx context.Context, name string, birthDate *core.Date) (core.Child, error) {
	name, err := core.ValidateName(name)
	if err != nil {
		return core.Child{}, err
	}
	now := s.now()
	if birthDate != nil {
		if err := core.ValidateBirthDate(*birthDate, now); err != nil {
			return core.Child{}, err
		}
	}

	child, err := s.store.CreateChild(ctx, storage.CreateChildParams{
		Name:      name,
		BirthDate: birthDate,
		CreatedAt: now,
	})
	if err != nil {
		return core.Child{}, fmt.Errorf("register child: %w", err)
	}

	slog.InfoContext(ctx, "Child registered", "child_id", child.ID, "name", child.Name)
	return child, nil
}

// ChildUpdate carries optional changes; nil fields are left alone.
type ChildUpdate struct {
	Name           *string
	BirthDate      *core.Date
	ClearBirthDate bool
}

func (s *LedgerService) UpdateChild(ctx context.Context, id int64, upd ChildUpdate) (core.Child, error) {
	var updated core.Child
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		current, err := q.GetChild(ctx, id)
		if err != nil {
			return err
		}
		params := storage.UpdateChildParams{ID: id, Name: current.Name, BirthDate: current.BirthDate}
		if upd.Name != nil {
			name, err := core.ValidateName(*upd.Name)
			if err != nil {
				return err
			}
			params.Name = name
		}
		if upd.ClearBirthDate {
			params.BirthDate = nil
		}
		if upd.BirthDate != nil {
			if err := core.ValidateBirthDate(*upd.BirthDate, s.now()); err != nil {
				return err
			}
			params.BirthDate = upd.BirthDate
		}
		updated, err = q.UpdateChild(ctx, params)
		return err
	})
	if err != nil {
		return core.Child{}, fmt.Errorf("update child: %w", err)
	}
	return updated, nil
}

// DeleteChild removes the child with its transactions and wishes.
func (s *LedgerService) DeleteChild(ctx context.Context, id int64) error {
	if err := s.store.DeleteChild(ctx, id); err != nil {
		return fmt.Errorf("delete child: %w", err)
	}
	slog.InfoContext(ctx, "Child deleted", "child_id", id)
	return nil
}

func (s *LedgerService) GetChild(ctx context.Context, id int64) (core.Child, error) {
	return s.store.GetChild(ctx, id)
}

func (s *LedgerService) GetChildByName(ctx context.Context, name string) (core.Child, error) {
	return s.store.GetChildByName(ctx, strings.TrimSpace(name))
}

func (s *LedgerService) ListChildren(ctx context.Context) ([]core.Child, error) {
	return s.store.ListChildren(ctx)
}

// ---- balance mutations ----

// Deposit credits amount to the child.
func (s *LedgerService) Deposit(ctx context.Context, childID int64, amount core.Money, description string) (Receipt, error) {
	if err := amount.Validate(); err != nil {
		return Receipt{}, err
	}
	description, err := core.ValidateDescription(description)
	if err != nil {
		return Receipt{}, err
	}

	var r Receipt
	err = s.store.WithTx(ctx, func(q *storage.Queries) error {
		var err error
		r, err = s.credit(ctx, q, childID, amount, description, core.CategoryDeposit, "")
		return err
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("deposit: %w", err)
	}

	s.logReceipt(ctx, pmlog.OpDeposit, r)
	s.publish(ctx, r)
	return r, nil
}

// Withdraw debits amount when the balance covers it. An empty category
// defaults to Spend.
func (s *LedgerService) Withdraw(ctx context.Context, childID int64, amount core.Money, description, category string) (Receipt, error) {
	if err := amount.Validate(); err != nil {
		return Receipt{}, err
	}
	description, err := core.ValidateDescription(description)
	if err != nil {
		return Receipt{}, err
	}
	category = strings.TrimSpace(category)
	if category == "" {
		category = core.CategorySpend
	}

	var r Receipt
	err = s.store.WithTx(ctx, func(q *storage.Queries) error {
		var err error
		r, err = s.debit(ctx, q, childID, amount, description, category)
		return err
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("withdraw: %w", err)
	}

	s.logReceipt(ctx, pmlog.OpWithdraw, r)
	s.publish(ctx, r)
	return r, nil
}

// AdjustBalance overwrites the balance and records the difference as a
// Correction, even when the difference is zero. Any value is accepted,
// including a negative balance.
func (s *LedgerService) AdjustBalance(ctx context.Context, childID int64, newBalance core.Money, description string) (Receipt, error) {
	description, err := core.ValidateDescription(description)
	if err != nil {
		return Receipt{}, err
	}
	if description == "" {
		description = adjustDescription
	}

	var r Receipt
	for attempt := 1; ; attempt++ {
		err = s.store.WithTx(ctx, func(q *storage.Queries) error {
			child, err := q.GetChild(ctx, childID)
			if err != nil {
				return err
			}
			delta, ok := newBalance.SubChecked(child.Balance)
			if !ok {
				return fmt.Errorf("correction out of range: %w", core.ErrInvalidAmount)
			}
			if err := q.SetBalanceIfUnchanged(ctx, childID, child.Balance.Cents, newBalance.Cents); err != nil {
				return err
			}
			tx, err := q.InsertTransaction(ctx, storage.InsertTransactionParams{
				ChildID:     childID,
				AmountCents: delta.Cents,
				Description: description,
				Category:    core.CategoryCorrection,
				Timestamp:   s.now(),
			})
			if err != nil {
				return err
			}
			r = Receipt{Transaction: tx, Balance: newBalance}
			return nil
		})
		if !errors.Is(err, core.ErrBalanceChanged) || attempt >= maxCASAttempts {
			break
		}
		slog.WarnContext(ctx, "Balance changed during adjustment, retrying",
			"child_id", childID, "attempt", attempt)
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("adjust balance: %w", err)
	}

	s.logReceipt(ctx, pmlog.OpAdjust, r)
	s.publish(ctx, r)
	return r, nil
}

// Adjust dispatches a signed amount: positive deposits, negative withdraws
// the absolute value, zero does nothing and returns the current balance.
func (s *LedgerService) Adjust(ctx context.Context, childID int64, amount core.Money, description, category string) (Receipt, bool, error) {
	switch {
	case amount.IsPositive():
		r, err := s.Deposit(ctx, childID, amount, description)
		return r, true, err
	case amount.IsNegative():
		r, err := s.Withdraw(ctx, childID, amount.Abs(), description, category)
		return r, true, err
	default:
		child, err := s.store.GetChild(ctx, childID)
		if err != nil {
			return Receipt{}, false, fmt.Errorf("adjust: %w", err)
		}
		return Receipt{Balance: child.Balance}, false, nil
	}
}

// credit and debit run inside the caller's transaction. The balance is
// updated first so the row lock is held before the ledger insert.
func (s *LedgerService) credit(ctx context.Context, q *storage.Queries, childID int64, amount core.Money, description, category, cycle string) (Receipt, error) {
	balance, err := q.CreditBalance(ctx, childID, amount.Cents)
	if err != nil {
		return Receipt{}, err
	}
	tx, err := q.InsertTransaction(ctx, storage.InsertTransactionParams{
		ChildID:     childID,
		AmountCents: amount.Cents,
		Description: description,
		Category:    category,
		PayoutCycle: cycle,
		Timestamp:   s.now(),
	})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Transaction: tx, Balance: core.Money{Cents: balance}}, nil
}

func (s *LedgerService) debit(ctx context.Context, q *storage.Queries, childID int64, amount core.Money, description, category string) (Receipt, error) {
	balance, err := q.DebitBalanceIfSufficient(ctx, childID, amount.Cents)
	if err != nil {
		return Receipt{}, err
	}
	tx, err := q.InsertTransaction(ctx, storage.InsertTransactionParams{
		ChildID:     childID,
		AmountCents: -amount.Cents,
		Description: description,
		Category:    category,
		Timestamp:   s.now(),
	})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Transaction: tx, Balance: core.Money{Cents: balance}}, nil
}

// ---- reads ----

// History returns transactions newest first. limit <= 0 means the default,
// anything above MaxHistoryLimit is capped.
func (s *LedgerService) History(ctx context.Context, childID int64, skip, limit int) ([]core.Transaction, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	items, err := s.store.ListTransactions(ctx, childID, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	if items == nil {
		items = []core.Transaction{}
	}
	return items, nil
}

// Stats sums transaction amounts per category.
func (s *LedgerService) Stats(ctx context.Context, childID int64) (map[string]core.Money, error) {
	sums, err := s.store.SumByCategory(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	out := make(map[string]core.Money, len(sums))
	for _, ca := range sums {
		out[ca.Name] = ca.Amount
	}
	return out, nil
}

// Reconcile compares the stored balance with the sum of the ledger. Both
// reads happen in one transaction so they see the same snapshot.
func (s *LedgerService) Reconcile(ctx context.Context, childID int64) (core.Reconciliation, error) {
	var rec core.Reconciliation
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		child, err := q.GetChild(ctx, childID)
		if err != nil {
			return err
		}
		sum, err := q.SumTransactions(ctx, childID)
		if err != nil {
			return err
		}
		ledger := core.Money{Cents: sum}
		rec = core.Reconciliation{
			ChildID:   childID,
			Balance:   child.Balance,
			LedgerSum: ledger,
			Drift:     child.Balance.Sub(ledger),
			InSync:    child.Balance == ledger,
		}
		return nil
	})
	if err != nil {
		return core.Reconciliation{}, fmt.Errorf("reconcile: %w", err)
	}
	if !rec.InSync {
		slog.WarnContext(ctx, "Ledger drift detected",
			"child_id", childID,
			"balance_cents", rec.Balance.Cents,
			"ledger_cents", rec.LedgerSum.Cents)
	}
	return rec, nil
}

// publish is best effort: the ledger is already committed.
func (s *LedgerService) publish(ctx context.Context, r Receipt) {
	ev := events.NewLedgerEvent(events.KindForCategory(r.Transaction.Category, r.Transaction.Amount), r.Transaction, r.Balance)
	if err := s.publisher.Publish(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"transaction_id", r.Transaction.ID,
			"child_id", r.Transaction.ChildID,
			"error", err)
	}
}

// logReceipt goes through the request logger so the line carries the
// request id when there is one.
func (s *LedgerService) logReceipt(ctx context.Context, op string, r Receipt) {
	pmlog.NewStructuredLogger(pmlog.FromContext(ctx)).LogLedgerEntry(ctx, op,
		r.Transaction.ChildID, r.Transaction.ID, r.Transaction.Amount.Cents,
		r.Transaction.Category, r.Balance.Cents)
}
