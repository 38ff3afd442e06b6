package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"pocketmoney/internal/cli"
	"pocketmoney/internal/config"
	pmlog "pocketmoney/internal/log"
	"pocketmoney/internal/sheets"
	gsheet "pocketmoney/internal/sheets/google"
	mem "pocketmoney/internal/sheets/memory"
	"pocketmoney/internal/worker"
)

const statsInterval = 10 * time.Minute

func main() {
	cfg, logger := cli.Bootstrap(pmlog.ComponentWorker, validateMirror)
	logger.Info("Starting ledger-sync",
		"events_broker", cfg.EventsBroker,
		"spreadsheet_configured", cfg.GoogleSpreadsheetID != "")

	if err := run(cfg, logger); err != nil {
		logger.Error("Ledger sync stopped with error", pmlog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Ledger sync shutdown complete")
}

// validateMirror requires full Sheets settings once a spreadsheet is named.
// Without one the worker runs against the in-memory mirror.
func validateMirror(cfg *config.Config) error {
	if cfg.GoogleSpreadsheetID != "" {
		return cfg.ValidateSheets()
	}
	if cfg.EventsBroker == config.BrokerNone {
		return errors.New("ledger-sync needs EVENTS_BROKER set to amqp or nats")
	}
	return nil
}

func run(cfg *config.Config, logger *pmlog.Logger) error {
	ctx, stop := cli.GracefulShutdown(logger)
	defer stop()

	var (
		mirror sheets.LedgerMirror
		index  sheets.EventIndex
	)
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.NewFromConfig(ctx, cfg)
		if err != nil {
			return fmt.Errorf("initialize Google Sheets client: %w", err)
		}
		mirror, index = client, client
		logger.Info("Google Sheets mirror initialized",
			"spreadsheet_id", cfg.GoogleSpreadsheetID,
			"sheet", cfg.GoogleSheetName)
	} else {
		store := mem.New()
		mirror, index = store, store
		logger.Warn("No GOOGLE_SPREADSHEET_ID, mirroring to memory only")
	}

	broker, err := cli.ConnectBroker(cfg)
	if err != nil {
		return err
	}
	defer broker.Close()

	syncWorker := worker.NewSyncWorker(mirror, index, worker.DefaultSeenCapacity, logger)

	logger.Info("Performing startup sync check...")
	if _, err := syncWorker.StartupSyncCheck(ctx, time.Now()); err != nil {
		// Duplicates are possible until the filter warms up; keep going.
		logger.Error("Failed startup sync check", pmlog.FieldError, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := broker.Consume(gctx, syncWorker.HandleLedgerEvent)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				st := syncWorker.Stats()
				logger.Info("Ledger sync stats",
					"mirrored", st.Mirrored,
					"duplicates_skipped", st.Skipped,
					"remembered_events", st.Remembered)
			}
		}
	})

	return g.Wait()
}
