package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"pocketmoney/internal/events"
)

// MessageVersion is bumped when the envelope layout changes.
const MessageVersion = 1

// LedgerEventMessage is the envelope for one committed ledger transaction.
// It carries the full event so ledger-sync never reads the database.
type LedgerEventMessage struct {
	Version     int                `json:"version"`
	Event       events.LedgerEvent `json:"event"`
	PublishedAt time.Time          `json:"published_at"`
}

// NewLedgerEventMessage wraps ev in a versioned envelope.
func NewLedgerEventMessage(ev events.LedgerEvent) *LedgerEventMessage {
	return &LedgerEventMessage{
		Version:     MessageVersion,
		Event:       ev,
		PublishedAt: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventMessageFromJSON decodes an envelope and rejects unknown versions.
func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Version != MessageVersion {
		return nil, fmt.Errorf("unsupported message version %d", msg.Version)
	}
	if msg.Event.ID == "" {
		return nil, fmt.Errorf("message has no event id")
	}
	return &msg, nil
}
