// Package cli provides common CLI initialization utilities.
// This package consolidates the startup steps shared by cmd/pocketmoney,
// cmd/payout-worker and cmd/ledger-sync.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pocketmoney/internal/amqp"
	"pocketmoney/internal/config"
	"pocketmoney/internal/events"
	pmlog "pocketmoney/internal/log"
	"pocketmoney/internal/storage"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from LOG_LEVEL and installs it as
// the slog default.
func SetupLogger(level, component string) *pmlog.Logger {
	cfg := pmlog.DefaultConfig()
	cfg.Level = pmlog.ParseLevel(level)
	cfg.Component = component
	logger := pmlog.New(cfg)
	pmlog.SetDefault(logger)
	return logger
}

// Bootstrap loads .env and configuration, then sets up logging. Validation
// failures exit the process; extra checks run after Validate.
func Bootstrap(component string, extra ...func(*config.Config) error) (*config.Config, *pmlog.Logger) {
	LoadEnvFile()
	cfg := config.Load()
	logger := SetupLogger(cfg.LogLevel, component)

	checks := append([]func(*config.Config) error{(*config.Config).Validate}, extra...)
	for _, check := range checks {
		if err := check(cfg); err != nil {
			logger.Error("Configuration validation failed", pmlog.FieldError, err)
			os.Exit(1)
		}
	}
	return cfg, logger
}

// OpenStore opens the configured database or exits the process.
func OpenStore(ctx context.Context, logger *pmlog.Logger, cfg *config.Config) *storage.Store {
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	store, err := storage.Open(openCtx, storage.Driver(cfg.DBDriver), cfg.DSN())
	if err != nil {
		logger.Error("Failed to open database",
			pmlog.FieldError, err,
			"driver", cfg.DBDriver)
		os.Exit(1)
	}
	return store
}

// Broker is the configured event bus seen from either side: publishers in
// the API and payout worker, a consumer in ledger-sync.
type Broker interface {
	events.Publisher
	Close() error
}

// Consumer is a Broker that can also deliver events.
type Consumer interface {
	Broker
	Consume(ctx context.Context, handler func(context.Context, events.LedgerEvent) error) error
}

// amqpBroker adapts the RabbitMQ client to Consumer.
type amqpBroker struct{ *amqp.Client }

func (b amqpBroker) Consume(ctx context.Context, handler func(context.Context, events.LedgerEvent) error) error {
	return b.ConsumeLedgerEvents(ctx, handler)
}

// ConnectBroker dials EVENTS_BROKER. It returns nil, nil when the broker is
// "none".
func ConnectBroker(cfg *config.Config) (Consumer, error) {
	switch cfg.EventsBroker {
	case config.BrokerAMQP:
		c, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			return nil, fmt.Errorf("connect to AMQP: %w", err)
		}
		return amqpBroker{c}, nil
	case config.BrokerNATS:
		b, err := events.NewNATSBus(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, nil
	}
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM. The
// stop function releases the signal handler.
func GracefulShutdown(logger *pmlog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
