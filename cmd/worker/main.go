package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/testforge/trackingtester/internal/activities/tracking"
	"github.com/testforge/trackingtester/internal/app"
	"github.com/testforge/trackingtester/internal/config"
	"github.com/testforge/trackingtester/internal/observability"
	tclient "github.com/testforge/trackingtester/internal/temporal"
	"github.com/testforge/trackingtester/internal/workflows"
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
		logger.Fatal("Worker failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if !cfg.Temporal.Enabled() {
		return fmt.Errorf("TEMPORAL_HOST is required for the worker")
	}

	logger.Info("Starting tracking tester worker",
		zap.String("version", cfg.App.Version),
		zap.String("temporal_address", cfg.Temporal.Addr()),
		zap.String("namespace", cfg.Temporal.Namespace),
		zap.String("task_queue", cfg.Temporal.TaskQueue),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics("trackingtester_worker")

	backends, err := app.Open(ctx, cfg, app.Options{}, metrics, logger)
	if err != nil {
		return err
	}
	defer backends.Close()
	if !backends.History.Enabled() {
		logger.Warn("No database configured, run results are not stored")
	}

	testRunner, closeRunner, err := app.NewRunner(cfg, metrics, logger)
	if err != nil {
		return fmt.Errorf("creating runner: %w", err)
	}
	defer func() {
		if err := closeRunner(); err != nil {
			logger.Warn("Failed to stop browser driver", zap.Error(err))
		}
	}()

	c, err := tclient.NewClient(cfg.Temporal, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	w := worker.New(c, c.TaskQueue(), worker.Options{
		MaxConcurrentActivityExecutionSize:     cfg.Temporal.WorkerCount,
		MaxConcurrentWorkflowTaskExecutionSize: cfg.Temporal.WorkerCount,
	})

	w.RegisterWorkflowWithOptions(workflows.TrackingTestWorkflow, workflow.RegisterOptions{
		Name: workflows.TrackingTestWorkflowName,
	})
	tracking.RegisterActivities(w, tracking.NewActivity(testRunner, backends.History, backends.Feed(), metrics, logger))

	logger.Info("Registered workflows and activities",
		zap.String("workflow", workflows.TrackingTestWorkflowName),
		zap.String("runner", testRunner.Kind()),
	)

	if err := w.Start(); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	logger.Info("Worker started", zap.String("task_queue", c.TaskQueue()))

	<-ctx.Done()
	logger.Info("Shutdown signal received")
	w.Stop()
	logger.Info("Worker stopped gracefully")
	return nil
}
