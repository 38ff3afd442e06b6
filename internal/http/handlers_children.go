package http

import (
	"net/http"

	"pocketmoney/internal/core"
	pmlog "pocketmoney/internal/log"
	"pocketmoney/internal/services"
)

// childView is a child as the API shows it, with its age worked out today.
type childView struct {
	core.Child
	Age int `json:"age"`
}

func newChildView(c core.Child) childView {
	return childView{Child: c, Age: core.AgeNow(c.BirthDate)}
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	child, err := s.resolveChild(r.Context(), r.PathValue("child_name"))
	if err != nil {
		s.writeError(w, r, pmlog.OpRead, "Child", err)
		return
	}
	NewJSONResponse().Body(map[string]interface{}{
		"name":    child.Name,
		"balance": child.Balance,
	}).Write(w)
}

func (s *Server) handleGetChildID(w http.ResponseWriter, r *http.Request) {
	child, err := s.resolveChild(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, pmlog.OpRead, "Child", err)
		return
	}
	NewJSONResponse().Body(map[string]interface{}{
		"id":   child.ID,
		"name": child.Name,
	}).Write(w)
}

func (s *Server) handleListChildren(w http.ResponseWriter, r *http.Request) {
	children, err := s.ledger.ListChildren(r.Context())
	if err != nil {
		s.writeError(w, r, pmlog.OpList, "Child", err)
		return
	}
	out := make([]childView, 0, len(children))
	for _, c := range children {
		out = append(out, newChildView(c))
	}
	NewJSONResponse().Body(out).Write(w)
}

func (s *Server) handleAddChild(w http.ResponseWriter, r *http.Request) {
	p, ok := s.parseBody(w, r, pmlog.OpCreate)
	if !ok {
		return
	}
	birthDate, _, err := p.Date("birth_date")
	if err != nil {
		s.writeError(w, r, pmlog.OpCreate, "Child", err)
		return
	}

	child, err := s.ledger.RegisterChild(r.Context(), r.PathValue("name"), birthDate)
	if err != nil {
		s.writeError(w, r, pmlog.OpCreate, "Child", err)
		return
	}
	s.childIDs.Set(childNameKey(child.Name), child.ID)

	NewJSONResponse().
		Status(http.StatusCreated).
		Body(newChildView(child)).
		Write(w)
}

func (s *Server) handleUpdateChild(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, pmlog.OpUpdate, "child_id")
	if !ok {
		return
	}
	p, ok := s.parseBody(w, r, pmlog.OpUpdate)
	if !ok {
		return
	}

	var upd services.ChildUpdate
	if name, sent := p.Lookup("name"); sent {
		upd.Name = &name
	}
	birthDate, sent, err := p.Date("birth_date")
	if err != nil {
		s.writeError(w, r, pmlog.OpUpdate, "Child", err)
		return
	}
	if sent {
		upd.BirthDate = birthDate
		upd.ClearBirthDate = birthDate == nil
	}

	child, err := s.ledger.UpdateChild(r.Context(), id, upd)
	if err != nil {
		s.writeError(w, r, pmlog.OpUpdate, "Child", err)
		return
	}
	// The old name may still map to this id.
	s.childIDs.Purge()

	NewJSONResponse().Body(newChildView(child)).Write(w)
}

func (s *Server) handleDeleteChild(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, pmlog.OpDelete, "child_id")
	if !ok {
		return
	}
	if err := s.ledger.DeleteChild(r.Context(), id); err != nil {
		s.writeError(w, r, pmlog.OpDelete, "Child", err)
		return
	}
	s.childIDs.Purge()

	NewJSONResponse().Body(map[string]interface{}{
		"message": "Child deleted",
		"id":      id,
	}).Write(w)
}
