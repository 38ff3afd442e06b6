package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/olahol/melody"
)

// Hub pushes ledger events to websocket clients. A client may subscribe to
// one child with ?child_id=N, otherwise it receives every event.
type Hub struct {
	m *melody.Melody
}

const sessionChildKey = "child_id"

func NewHub() *Hub {
	m := melody.New()
	m.Config.MaxMessageSize = 1024
	m.Config.PingPeriod = 30 * time.Second
	m.Config.PongWait = 60 * time.Second

	m.HandleConnect(func(s *melody.Session) {
		slog.Debug("Ledger feed client connected", "remote_addr", s.Request.RemoteAddr)
	})
	m.HandleDisconnect(func(s *melody.Session) {
		slog.Debug("Ledger feed client disconnected", "remote_addr", s.Request.RemoteAddr)
	})
	m.HandleError(func(s *melody.Session, err error) {
		slog.Warn("Ledger feed error", "remote_addr", s.Request.RemoteAddr, "error", err)
	})

	return &Hub{m: m}
}

// ServeHTTP upgrades the request to a websocket session.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var keys map[string]interface{}
	if raw := r.URL.Query().Get(sessionChildKey); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid child_id", http.StatusBadRequest)
			return
		}
		keys = map[string]interface{}{sessionChildKey: id}
	}
	if err := h.m.HandleRequestWithKeys(w, r, keys); err != nil {
		slog.WarnContext(r.Context(), "Failed to upgrade ledger feed", "error", err)
	}
}

func (h *Hub) Publish(_ context.Context, ev LedgerEvent) error {
	if h.m.IsClosed() {
		return nil
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}
	err = h.m.BroadcastFilter(msg, func(s *melody.Session) bool {
		id, ok := s.Get(sessionChildKey)
		return !ok || id == ev.ChildID
	})
	if err != nil {
		return fmt.Errorf("broadcast ledger event: %w", err)
	}
	return nil
}

// Clients returns the number of connected sessions.
func (h *Hub) Clients() int { return h.m.Len() }

func (h *Hub) Close() error { return h.m.Close() }
