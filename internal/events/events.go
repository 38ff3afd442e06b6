// Package events carries committed ledger changes to whoever listens: the
// RabbitMQ or NATS bus feeding ledger-sync, and the websocket live feed.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"pocketmoney/internal/core"
)

// Kind names the ledger operation that produced an event.
type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
	KindCorrection Kind = "correction"
	KindPayout     Kind = "payout"
	KindGoalMet    Kind = "goal_met"
)

// LedgerEvent is published once per committed transaction.
type LedgerEvent struct {
	ID          string           `json:"id"`
	Kind        Kind             `json:"kind"`
	ChildID     int64            `json:"child_id"`
	Transaction core.Transaction `json:"transaction"`
	Balance     core.Money       `json:"balance"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

// NewLedgerEvent stamps a fresh id on a committed transaction.
func NewLedgerEvent(kind Kind, tx core.Transaction, balance core.Money) LedgerEvent {
	return LedgerEvent{
		ID:          uuid.NewString(),
		Kind:        kind,
		ChildID:     tx.ChildID,
		Transaction: tx,
		Balance:     balance,
		OccurredAt:  tx.Timestamp,
	}
}

// KindForCategory maps a transaction category to its event kind.
func KindForCategory(category string, amount core.Money) Kind {
	switch category {
	case core.CategoryDeposit:
		return KindDeposit
	case core.CategoryCorrection:
		return KindCorrection
	case core.CategoryPocketMoney:
		return KindPayout
	case core.CategoryGoalMet:
		return KindGoalMet
	}
	if amount.IsNegative() {
		return KindWithdrawal
	}
	return KindDeposit
}

// Publisher delivers ledger events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev LedgerEvent) error
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev LedgerEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, LedgerEvent) error { return nil }

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev LedgerEvent) error

func (f PublisherFunc) Publish(ctx context.Context, ev LedgerEvent) error { return f(ctx, ev) }
