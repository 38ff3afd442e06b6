package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"pocketmoney/internal/auth"
	"pocketmoney/internal/cli"
	"pocketmoney/internal/config"
	"pocketmoney/internal/events"
	apphttp "pocketmoney/internal/http"
	pmlog "pocketmoney/internal/log"
	"pocketmoney/internal/services"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, logger := cli.Bootstrap(pmlog.ComponentApp)
	logger.Info("Starting pocketmoney",
		"port", cfg.Port,
		"db_driver", cfg.DBDriver,
		"events_broker", cfg.EventsBroker)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped with error", pmlog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server shutdown complete")
}

func run(cfg *config.Config, logger *pmlog.Logger) error {
	ctx, stop := cli.GracefulShutdown(logger)
	defer stop()

	store := cli.OpenStore(ctx, logger, cfg)
	defer store.Close()

	hub := events.NewHub()
	publishers := events.Multi{hub}

	broker, err := cli.ConnectBroker(cfg)
	if err != nil {
		// The ledger stays authoritative; only the mirror falls behind.
		logger.Warn("Event broker unavailable, continuing without it",
			pmlog.FieldError, err,
			"broker", cfg.EventsBroker)
	} else if broker != nil {
		defer broker.Close()
		publishers = append(publishers, broker)
		logger.Info("Event broker connected", "broker", cfg.EventsBroker)
	}

	ledger := services.NewLedgerService(store, publishers)
	wishes := services.NewWishService(store, ledger)

	window, err := services.GetCycleWindow(services.Cycle(cfg.PayoutCycle))
	if err != nil {
		return err
	}
	payouts := services.NewPayoutProcessor(store, ledger, cfg.UnitRate(), window, cfg.Location())

	tokens, password, err := adminCredentials(cfg, logger)
	if err != nil {
		return err
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Ledger:             ledger,
		Wishes:             wishes,
		Payouts:            payouts,
		Store:              store,
		Tokens:             tokens,
		Password:           password,
		Feed:               hub,
		Logger:             logger,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		TrustedProxies:     cfg.TrustedProxies,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down HTTP server", pmlog.FieldOperation, pmlog.OpShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Websocket sessions are hijacked, so Shutdown does not wait for them.
		if err := hub.Close(); err != nil {
			logger.Warn("Failed to close ledger feed", pmlog.FieldError, err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// adminCredentials builds the token issuer and password checker. Without a
// JWT_SIGNING_KEY a random key is used and tokens die with the process.
func adminCredentials(cfg *config.Config, logger *pmlog.Logger) (*auth.TokenIssuer, *auth.PasswordChecker, error) {
	if !cfg.HasAdminCredential() {
		logger.Warn("No admin credential configured, admin endpoints will refuse every request",
			pmlog.FieldComponent, pmlog.ComponentAuth)
	}
	password, err := auth.NewPasswordChecker(cfg.AdminPasswordHash, cfg.AdminSecret)
	if err != nil {
		return nil, nil, err
	}

	key := []byte(cfg.JWTSigningKey)
	if len(key) == 0 {
		key, err = auth.RandomKey()
		if err != nil {
			return nil, nil, err
		}
		logger.Warn("JWT_SIGNING_KEY not set, admin tokens will not survive a restart",
			pmlog.FieldComponent, pmlog.ComponentAuth)
	}

	tokens, err := auth.NewTokenIssuer(key, cfg.AdminTokenTTL)
	if err != nil {
		return nil, nil, err
	}
	return tokens, password, nil
}
