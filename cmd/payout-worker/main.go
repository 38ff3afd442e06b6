package main

import (
	"context"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"pocketmoney/internal/cli"
	"pocketmoney/internal/config"
	"pocketmoney/internal/events"
	pmlog "pocketmoney/internal/log"
	"pocketmoney/internal/services"
)

const (
	// runTimeout bounds one payout cycle including retries on busy storage.
	runTimeout  = 5 * time.Minute
	stopTimeout = 30 * time.Second
)

func main() {
	cfg, logger := cli.Bootstrap(pmlog.ComponentPayout)
	logger.Info("Starting payout-worker",
		"schedule", cfg.PayoutSchedule,
		"timezone", cfg.PayoutTimezone,
		"cycle", cfg.PayoutCycle,
		"unit_rate", cfg.PayoutUnitRate)

	if err := run(cfg, logger); err != nil {
		logger.Error("Payout worker stopped with error", pmlog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Payout worker shutdown complete")
}

func run(cfg *config.Config, logger *pmlog.Logger) error {
	ctx, stop := cli.GracefulShutdown(logger)
	defer stop()

	store := cli.OpenStore(ctx, logger, cfg)
	defer store.Close()

	var publisher events.Publisher = events.Nop{}
	broker, err := cli.ConnectBroker(cfg)
	if err != nil {
		logger.Warn("Event broker unavailable, payouts will not be mirrored",
			pmlog.FieldError, err,
			"broker", cfg.EventsBroker)
	} else if broker != nil {
		defer broker.Close()
		publisher = broker
	}

	window, err := services.GetCycleWindow(services.Cycle(cfg.PayoutCycle))
	if err != nil {
		return err
	}
	ledger := services.NewLedgerService(store, publisher)
	processor := services.NewPayoutProcessor(store, ledger, cfg.UnitRate(), window, cfg.Location())

	runPayout := func() {
		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()

		result, err := processor.Run(runCtx, time.Now())
		if err != nil {
			logger.Error("Payout run failed",
				pmlog.FieldError, err,
				pmlog.FieldRunID, result.Run.ID,
				pmlog.FieldCycleKey, result.Run.CycleKey)
			return
		}
		logger.Info("Payout run finished",
			pmlog.FieldRunID, result.Run.ID,
			pmlog.FieldCycleKey, result.Run.CycleKey,
			"children_paid", result.Run.ChildrenPaid,
			"skipped", len(result.Skipped),
			"total", result.Run.Total.String())
	}

	cronLog := cronLogger{logger}
	scheduler := cron.New(
		cron.WithLocation(cfg.Location()),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := scheduler.AddFunc(cfg.PayoutSchedule, runPayout); err != nil {
		return err
	}

	// A missed tick is caught up here; cycle dedup keeps it idempotent.
	if cfg.PayoutRunOnStart {
		logger.Info("Running payout on startup")
		runPayout()
	}

	scheduler.Start()
	for _, e := range scheduler.Entries() {
		logger.Info("Next payout scheduled", "at", e.Next.Format(time.RFC3339))
	}

	<-ctx.Done()
	logger.Info("Stopping scheduler", pmlog.FieldOperation, pmlog.OpShutdown)

	select {
	case <-scheduler.Stop().Done():
	case <-time.After(stopTimeout):
		logger.Warn("Shutdown timeout reached, abandoning running payout")
	}
	return nil
}

// cronLogger routes cron's own messages through the component logger.
type cronLogger struct {
	logger *pmlog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, pmlog.FieldError, err)...)
}
