package http

import (
	"net/http"

	pmlog "pocketmoney/internal/log"
	"pocketmoney/internal/services"
)

func (s *Server) handleListWishes(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, pmlog.OpList, "child_id")
	if !ok {
		return
	}
	wishes, err := s.wishes.List(r.Context(), id)
	if err != nil {
		s.writeError(w, r, pmlog.OpList, "Child", err)
		return
	}
	NewJSONResponse().Body(wishes).Write(w)
}

func (s *Server) handleCreateWish(w http.ResponseWriter, r *http.Request) {
	childID, ok := s.pathID(w, r, pmlog.OpCreate, "child_id")
	if !ok {
		return
	}
	p, ok := s.parseBody(w, r, pmlog.OpCreate)
	if !ok {
		return
	}
	cost, err := p.Money("cost")
	if err != nil {
		s.writeError(w, r, pmlog.OpCreate, "Wish", err)
		return
	}

	wish, err := s.wishes.Create(r.Context(), childID, p.Get("item_name"), cost)
	if err != nil {
		s.writeError(w, r, pmlog.OpCreate, "Child", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(wish).Write(w)
}

func (s *Server) handleUpdateWish(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, pmlog.OpUpdate, "wish_id")
	if !ok {
		return
	}
	p, ok := s.parseBody(w, r, pmlog.OpUpdate)
	if !ok {
		return
	}

	var upd services.WishUpdate
	if item, sent := p.Lookup("item_name"); sent {
		upd.ItemName = &item
	}
	cost, err := p.OptionalMoney("cost")
	if err != nil {
		s.writeError(w, r, pmlog.OpUpdate, "Wish", err)
		return
	}
	upd.Cost = cost

	wish, err := s.wishes.Update(r.Context(), id, upd)
	if err != nil {
		s.writeError(w, r, pmlog.OpUpdate, "Wish", err)
		return
	}
	NewJSONResponse().Body(wish).Write(w)
}

func (s *Server) handleDeleteWish(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, pmlog.OpDelete, "wish_id")
	if !ok {
		return
	}
	if err := s.wishes.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, pmlog.OpDelete, "Wish", err)
		return
	}
	NewJSONResponse().Body(map[string]interface{}{
		"message": "Wish deleted",
		"id":      id,
	}).Write(w)
}

// handleFulfillWish buys the wish: its cost leaves the balance as Goal Met.
func (s *Server) handleFulfillWish(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, pmlog.OpFulfill, "wish_id")
	if !ok {
		return
	}
	receipt, err := s.wishes.Fulfill(r.Context(), id)
	if err != nil {
		s.writeError(w, r, pmlog.OpFulfill, "Wish", err)
		return
	}
	NewJSONResponse().Body(map[string]interface{}{
		"message":        "Wish fulfilled",
		"new_balance":    receipt.Balance,
		"transaction_id": receipt.Transaction.ID,
	}).Write(w)
}
