// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"librarycatalog/internal/auth"
	"librarycatalog/internal/config"
	"librarycatalog/internal/seed"
	"librarycatalog/internal/server"
	"librarycatalog/internal/store/breaker"
	"librarycatalog/internal/telemetry"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		slog.Error("api exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "librarycatalog-api", version, cfg.OTLPEndpoint, logger)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracing shutdown", slog.String("error", err.Error()))
		}
	}()

	stores, closeStores, err := server.OpenStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	svcs := server.NewServices(stores, server.Settings{
		LoanPeriod:     cfg.LoanPeriod,
		AuthRatePerMin: cfg.AuthRatePerMin,
		AuthRateBurst:  cfg.AuthRateBurst,
		Breaker: breaker.Settings{
			ConsecutiveFails: cfg.BreakerFailures,
			Timeout:          cfg.BreakerTimeout,
		},
	}, logger)

	if cfg.SeedDemo {
		if err := seed.Demo(ctx, svcs.Membership, svcs.Catalog, logger); err != nil {
			return err
		}
	}

	tokens, err := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.New(svcs, tokens, stores.Ping, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting api", slog.String("addr", srv.Addr), slog.String("store", cfg.StoreDriver))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", slog.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
