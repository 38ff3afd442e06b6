package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pocketmoney/internal/core"
)

func TestKindForCategory(t *testing.T) {
	cases := []struct {
		category string
		cents    int64
		want     Kind
	}{
		{core.CategoryDeposit, 100, KindDeposit},
		{core.CategorySpend, -100, KindWithdrawal},
		{core.CategoryCorrection, -100, KindCorrection},
		{core.CategoryPocketMoney, 500, KindPayout},
		{core.CategoryGoalMet, -900, KindGoalMet},
		{"Gift", 300, KindDeposit},
		{"Toys", -300, KindWithdrawal},
	}
	for _, tc := range cases {
		if got := KindForCategory(tc.category, core.Money{Cents: tc.cents}); got != tc.want {
			t.Errorf("KindForCategory(%q, %d) = %s, want %s", tc.category, tc.cents, got, tc.want)
		}
	}
}

func TestMultiPublishesToAllAndJoinsErrors(t *testing.T) {
	var calls int
	ok := PublisherFunc(func(context.Context, LedgerEvent) error { calls++; return nil })
	bad := PublisherFunc(func(context.Context, LedgerEvent) error { calls++; return errors.New("broker down") })

	err := Multi{ok, nil, bad, ok}.Publish(context.Background(), LedgerEvent{ID: "e1"})
	if err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestNewLedgerEvent(t *testing.T) {
	tx := core.Transaction{ID: 7, ChildID: 3, Amount: core.Money{Cents: 250}, Category: core.CategoryDeposit, Timestamp: time.Now()}
	ev := NewLedgerEvent(KindDeposit, tx, core.Money{Cents: 1250})
	if ev.ID == "" || ev.ChildID != 3 || ev.Balance.Cents != 1250 || !ev.OccurredAt.Equal(tx.Timestamp) {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestHubBroadcastsToSubscribedChild(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?child_id=3", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	ctx := context.Background()
	if err := hub.Publish(ctx, LedgerEvent{ID: "other", ChildID: 4}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := hub.Publish(ctx, LedgerEvent{ID: "mine", ChildID: 3}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev LedgerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.ID != "mine" {
		t.Fatalf("received %q, want only the subscribed child's event", ev.ID)
	}
}
