package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBus publishes ledger events on a subject and lets ledger-sync
// subscribe to the same subject.
type NATSBus struct {
	conn    *nats.Conn
	subject string
}

// NewNATSBus connects to url. The connection reconnects on its own.
func NewNATSBus(url, subject string) (*NATSBus, error) {
	nc, err := nats.Connect(url,
		nats.Name("pocketmoney"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSBus{conn: nc, subject: subject}, nil
}

func (b *NATSBus) Publish(ctx context.Context, ev LedgerEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		return fmt.Errorf("publish to NATS subject %s: %w", b.subject, err)
	}
	slog.DebugContext(ctx, "Published ledger event to NATS",
		"event_id", ev.ID,
		"child_id", ev.ChildID,
		"subject", b.subject)
	return nil
}

// Consume delivers every event on the subject to handler until ctx is done.
func (b *NATSBus) Consume(ctx context.Context, handler func(context.Context, LedgerEvent) error) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		var ev LedgerEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Error("Discarding malformed ledger event", "subject", msg.Subject, "error", err)
			return
		}
		if err := handler(ctx, ev); err != nil {
			slog.Error("Failed to handle ledger event", "event_id", ev.ID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.subject, err)
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	return nil
}

// IsConnected reports the connection state.
func (b *NATSBus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

func (b *NATSBus) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Drain()
}
