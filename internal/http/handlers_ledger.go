package http

import (
	"errors"
	"net/http"

	"pocketmoney/internal/core"
	pmlog "pocketmoney/internal/log"
	"pocketmoney/internal/services"
)

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, pmlog.OpDeposit, "child_id")
	if !ok {
		return
	}
	p, ok := s.parseBody(w, r, pmlog.OpDeposit)
	if !ok {
		return
	}
	amount, err := p.Money("amount")
	if err != nil {
		s.writeError(w, r, pmlog.OpDeposit, "Child", err)
		return
	}

	receipt, err := s.ledger.Deposit(r.Context(), id, amount, p.Get("description"))
	if err != nil {
		s.writeError(w, r, pmlog.OpDeposit, "Child", err)
		return
	}
	NewJSONResponse().Body(map[string]interface{}{
		"message":        "Deposit successful",
		"new_balance":    receipt.Balance,
		"transaction_id": receipt.Transaction.ID,
	}).Write(w)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, pmlog.OpWithdraw, "child_id")
	if !ok {
		return
	}
	p, ok := s.parseBody(w, r, pmlog.OpWithdraw)
	if !ok {
		return
	}
	amount, err := p.Money("amount")
	if err != nil {
		s.writeError(w, r, pmlog.OpWithdraw, "Child", err)
		return
	}

	receipt, err := s.ledger.Withdraw(r.Context(), id, amount, p.Get("description"), p.Get("category"))
	if errors.Is(err, core.ErrInsufficientFunds) {
		// Withdraw answers 404 for a short balance as well as an unknown child.
		s.writeErrorResponse(w, r, pmlog.OpWithdraw, err, NotFoundError("Insufficient funds"))
		return
	}
	if err != nil {
		s.writeError(w, r, pmlog.OpWithdraw, "Child", err)
		return
	}
	NewJSONResponse().Body(map[string]interface{}{
		"status":         "success",
		"new_balance":    receipt.Balance,
		"transaction_id": receipt.Transaction.ID,
	}).Write(w)
}

func (s *Server) handleAdjustBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, pmlog.OpAdjust, "child_id")
	if !ok {
		return
	}
	p, ok := s.parseBody(w, r, pmlog.OpAdjust)
	if !ok {
		return
	}
	newBalance, err := p.Money("new_balance")
	if err != nil {
		s.writeError(w, r, pmlog.OpAdjust, "Child", err)
		return
	}

	receipt, err := s.ledger.AdjustBalance(r.Context(), id, newBalance, p.Get("description"))
	if err != nil {
		s.writeError(w, r, pmlog.OpAdjust, "Child", err)
		return
	}
	NewJSONResponse().Body(map[string]interface{}{
		"message":        "Balance updated",
		"new_balance":    receipt.Balance,
		"transaction_id": receipt.Transaction.ID,
	}).Write(w)
}

// handleAdjust applies a signed amount: positive deposits, negative
// withdraws, zero changes nothing.
func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, pmlog.OpAdjust, "child_id")
	if !ok {
		return
	}
	p, ok := s.parseBody(w, r, pmlog.OpAdjust)
	if !ok {
		return
	}
	amount, err := p.Money("amount")
	if err != nil {
		s.writeError(w, r, pmlog.OpAdjust, "Child", err)
		return
	}

	receipt, applied, err := s.ledger.Adjust(r.Context(), id, amount, p.Get("description"), p.Get("category"))
	if err != nil {
		s.writeError(w, r, pmlog.OpAdjust, "Child", err)
		return
	}
	body := map[string]interface{}{
		"message":     "No change",
		"new_balance": receipt.Balance,
		"applied":     applied,
	}
	if applied {
		body["message"] = "Adjustment applied"
		body["transaction_id"] = receipt.Transaction.ID
	}
	NewJSONResponse().Body(body).Write(w)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, pmlog.OpList, "child_id")
	if !ok {
		return
	}
	skip, err := QueryInt(r, "skip", 0)
	if err != nil {
		s.badRequest(w, r, pmlog.OpList, err, err.Error())
		return
	}
	limit, err := QueryInt(r, "limit", services.DefaultHistoryLimit)
	if err != nil {
		s.badRequest(w, r, pmlog.OpList, err, err.Error())
		return
	}

	items, err := s.ledger.History(r.Context(), id, skip, limit)
	if err != nil {
		s.writeError(w, r, pmlog.OpList, "Child", err)
		return
	}
	NewJSONResponse().Body(items).Write(w)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, pmlog.OpRead, "child_id")
	if !ok {
		return
	}
	stats, err := s.ledger.Stats(r.Context(), id)
	if err != nil {
		s.writeError(w, r, pmlog.OpRead, "Child", err)
		return
	}
	NewJSONResponse().Body(stats).Write(w)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, pmlog.OpRead, "child_id")
	if !ok {
		return
	}
	rec, err := s.ledger.Reconcile(r.Context(), id)
	if err != nil {
		s.writeError(w, r, pmlog.OpRead, "Child", err)
		return
	}
	NewJSONResponse().Body(rec).Write(w)
}
