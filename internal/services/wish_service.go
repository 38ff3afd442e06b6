package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"pocketmoney/internal/core"
	"pocketmoney/internal/storage"
)

// WishService manages savings goals. Fulfilment goes through the ledger so a
// bought wish shows up as a Goal Met withdrawal.
type WishService struct {
	store  *storage.Store
	ledger *LedgerService
}

func NewWishService(store *storage.Store, ledger *LedgerService) *WishService {
	return &WishService{store: store, ledger: ledger}
}

func (s *WishService) Create(ctx context.Context, childID int64, itemName string, cost core.Money) (core.Wish, error) {
	w := core.Wish{ChildID: childID, ItemName: strings.TrimSpace(itemName), Cost: cost}
	if err := w.Validate(); err != nil {
		return core.Wish{}, err
	}
	created, err := s.store.CreateWish(ctx, storage.CreateWishParams{
		ChildID:   childID,
		ItemName:  w.ItemName,
		CostCents: cost.Cents,
	})
	if err != nil {
		return core.Wish{}, fmt.Errorf("create wish: %w", err)
	}
	slog.InfoContext(ctx, "Wish created", "wish_id", created.ID, "child_id", childID, "cost_cents", cost.Cents)
	return created, nil
}

func (s *WishService) Get(ctx context.Context, id int64) (core.Wish, error) {
	return s.store.GetWish(ctx, id)
}

// List returns the child's wishes with progress against the current balance.
func (s *WishService) List(ctx context.Context, childID int64) ([]core.WishProgress, error) {
	child, err := s.store.GetChild(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("list wishes: %w", err)
	}
	wishes, err := s.store.ListWishes(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("list wishes: %w", err)
	}
	out := make([]core.WishProgress, 0, len(wishes))
	for _, w := range wishes {
		out = append(out, core.NewWishProgress(w, child.Balance))
	}
	return out, nil
}

// WishUpdate carries optional changes; nil fields are left alone.
type WishUpdate struct {
	ItemName *string
	Cost     *core.Money
}

func (s *WishService) Update(ctx context.Context, id int64, upd WishUpdate) (core.Wish, error) {
	var updated core.Wish
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		w, err := q.GetWish(ctx, id)
		if err != nil {
			return err
		}
		if upd.ItemName != nil {
			w.ItemName = strings.TrimSpace(*upd.ItemName)
		}
		if upd.Cost != nil {
			w.Cost = *upd.Cost
		}
		if err := w.Validate(); err != nil {
			return err
		}
		updated, err = q.UpdateWish(ctx, storage.UpdateWishParams{
			ID:        id,
			ItemName:  w.ItemName,
			CostCents: w.Cost.Cents,
		})
		return err
	})
	if err != nil {
		return core.Wish{}, fmt.Errorf("update wish: %w", err)
	}
	return updated, nil
}

func (s *WishService) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteWish(ctx, id); err != nil {
		return fmt.Errorf("delete wish: %w", err)
	}
	return nil
}

// Fulfill withdraws the wish cost as Goal Met and removes the wish in one
// transaction. With insufficient funds neither happens.
func (s *WishService) Fulfill(ctx context.Context, id int64) (Receipt, error) {
	var r Receipt
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		w, err := q.GetWish(ctx, id)
		if err != nil {
			return err
		}
		desc := "Wish fulfilled: " + w.ItemName
		if runes := []rune(desc); len(runes) > core.MaxDescriptionLength {
			desc = string(runes[:core.MaxDescriptionLength])
		}
		r, err = s.ledger.debit(ctx, q, w.ChildID, w.Cost, desc, core.CategoryGoalMet)
		if err != nil {
			return err
		}
		return q.DeleteWish(ctx, id)
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("fulfill wish: %w", err)
	}

	s.ledger.logReceipt(ctx, "Wish fulfilled", r)
	s.ledger.publish(ctx, r)
	return r, nil
}
