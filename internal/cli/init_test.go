package cli

import (
	"context"
	"log/slog"
	"testing"

	"pocketmoney/internal/config"
	pmlog "pocketmoney/internal/log"
)

func TestConnectBroker_None(t *testing.T) {
	b, err := ConnectBroker(&config.Config{EventsBroker: config.BrokerNone})
	if err != nil || b != nil {
		t.Fatalf("ConnectBroker(none) = %v, %v", b, err)
	}
}

func TestConnectBroker_Unreachable(t *testing.T) {
	_, err := ConnectBroker(&config.Config{
		EventsBroker: config.BrokerNATS,
		NATSURL:      "nats://127.0.0.1:1",
		NATSSubject:  "pocketmoney.test",
	})
	if err == nil {
		t.Fatal("expected error for unreachable NATS server")
	}
}

func TestSetupLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := SetupLogger("debug", pmlog.ComponentWorker)
	if logger.Component() != pmlog.ComponentWorker {
		t.Errorf("component = %q", logger.Component())
	}
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("default logger should log at debug")
	}
}
