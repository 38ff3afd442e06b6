package core

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount Money
}

// Reconciliation compares the cached balance with the ledger it derives from.
type Reconciliation struct {
	ChildID   int64 `json:"child_id"`
	Balance   Money `json:"balance"`
	LedgerSum Money `json:"ledger_sum"`
	Drift     Money `json:"drift"`
	InSync    bool  `json:"in_sync"`
}

// WishProgress decorates a wish with how close the child is to affording it.
type WishProgress struct {
	Wish
	Affordable bool  `json:"affordable"`
	Remaining  Money `json:"remaining"`
}

// NewWishProgress computes progress of w against balance.
func NewWishProgress(w Wish, balance Money) WishProgress {
	remaining := w.Cost.Sub(balance)
	if remaining.IsNegative() {
		remaining = Money{}
	}
	return WishProgress{
		Wish:       w,
		Affordable: !balance.LessThan(w.Cost),
		Remaining:  remaining,
	}
}
