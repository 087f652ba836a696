package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/testforge/trackingtester/internal/api"
	"github.com/testforge/trackingtester/internal/api/handlers"
	"github.com/testforge/trackingtester/internal/app"
	"github.com/testforge/trackingtester/internal/config"
	"github.com/testforge/trackingtester/internal/observability"
	tclient "github.com/testforge/trackingtester/internal/temporal"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("API server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting tracking tester API",
		zap.String("version", cfg.App.Version),
		zap.String("environment", string(cfg.Env)),
		zap.String("runner", cfg.Tester.Runner),
		zap.String("llm_provider", cfg.LLM.Provider),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics("trackingtester")

	backends, err := app.Open(ctx, cfg, app.Options{
		MemoryHistory: !cfg.Database.Enabled() && !cfg.Temporal.Enabled(),
	}, metrics, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	testRunner, closeRunner, err := app.NewRunner(cfg, metrics, logger)
	if err != nil {
		return fmt.Errorf("creating runner: %w", err)
	}
	defer func() {
		if err := closeRunner(); err != nil {
			logger.Warn("Failed to stop browser driver", zap.Error(err))
		}
	}()

	routerCfg := api.RouterConfig{
		Runner:         testRunner,
		History:        backends.History,
		SessionTimeout: cfg.Tester.SessionTimeout,
		Feed:           backends.Feed(),
		Subscriber:     backends.Subscriber(),
		Checks:         backends.Checks(),
		Metrics:        metrics,
		Logger:         logger,
	}

	if cfg.Temporal.Enabled() {
		temporalClient, err := tclient.NewClient(cfg.Temporal, logger)
		if err != nil {
			logger.Warn("Temporal unavailable, asynchronous runs disabled", zap.Error(err))
		} else {
			defer temporalClient.Close()
			routerCfg.Workflows = temporalClient
			routerCfg.Describer = temporalClient
			routerCfg.TaskQueue = temporalClient.TaskQueue()
			routerCfg.Checks["temporal"] = handlers.CheckFunc(temporalClient.Health)
			logger.Info("Connected to Temporal",
				zap.String("address", cfg.Temporal.Addr()),
				zap.String("namespace", temporalClient.Namespace()),
			)
		}
	}

	if cfg.RateLimits.Enabled {
		if limiter := backends.RateLimiter(); limiter != nil {
			routerCfg.RateLimiter = limiter
			routerCfg.RateLimit = cfg.RateLimits.RequestsPerMin
			routerCfg.RateLimitWindow = cfg.RateLimits.Window
		}
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      http.MaxBytesHandler(api.NewRouter(routerCfg), cfg.Server.MaxRequestSize),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("API server listening", zap.String("addr", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed, forcing close", zap.Error(err))
		_ = server.Close()
	}

	logger.Info("Server stopped gracefully")
	return nil
}
