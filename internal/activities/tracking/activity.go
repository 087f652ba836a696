// Package tracking implements the activities of TrackingTestWorkflow.
package tracking

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/testforge/trackingtester/internal/domain"
	"github.com/testforge/trackingtester/internal/observability"
	"github.com/testforge/trackingtester/internal/runner"
	"github.com/testforge/trackingtester/internal/services/history"
	"github.com/testforge/trackingtester/internal/services/session"
	"github.com/testforge/trackingtester/internal/workflows"
)

// heartbeatInterval keeps the session activity alive during long waits
// between action lines.
const heartbeatInterval = 10 * time.Second

// Feed publishes the live action lines of a run.
type Feed interface {
	PublishAction(ctx context.Context, id uuid.UUID, line string) error
	CloseFeed(ctx context.Context, id uuid.UUID) error
}

// Activity runs sessions and records their outcome.
type Activity struct {
	runner  runner.Runner
	history *history.Service
	feed    Feed
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewActivity creates the tracking activities. feed and metrics may be nil.
func NewActivity(r runner.Runner, h *history.Service, feed Feed, metrics *observability.Metrics, logger *zap.Logger) *Activity {
	return &Activity{runner: r, history: h, feed: feed, metrics: metrics, logger: logger}
}

// RunTrackingSession executes one session. It heartbeats with the number
// of action lines logged so far. Session errors are returned as
// non-retryable application errors typed with the domain error code.
func (a *Activity) RunTrackingSession(ctx context.Context, input workflows.SessionInput) (*domain.SessionResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Starting tracking session", "run_id", input.RunID.String(), "url", input.Config.URL)

	run := a.loadRun(ctx, input.RunID, input.Config, "workflow")
	if err := a.history.Start(ctx, run); err != nil {
		a.logger.Warn("marking run as running failed", zap.String("run_id", input.RunID.String()), zap.Error(err))
	}

	var lines atomic.Int64
	opts := []session.RunOption{
		session.WithRunID(input.RunID.String()),
		session.WithActionHook(func(string) {
			activity.RecordHeartbeat(ctx, lines.Add(1))
		}),
	}
	if a.feed != nil {
		opts = append(opts, session.WithActionHook(func(line string) {
			if err := a.feed.PublishAction(ctx, input.RunID, line); err != nil {
				a.logger.Debug("publishing action failed", zap.Error(err))
			}
		}))
		defer func() {
			_ = a.feed.CloseFeed(context.WithoutCancel(ctx), input.RunID)
		}()
	}

	stop := keepAlive(ctx, &lines)
	result, err := a.runner.Run(ctx, input.Config, opts...)
	stop()

	if err != nil {
		code, message := domain.FailureOf(err)
		a.metrics.RecordActivityExecution(workflows.RunTrackingSessionActivityName, "failed")
		logger.Warn("Tracking session failed", "run_id", input.RunID.String(), "code", code, "error", err.Error())
		return nil, temporal.NewNonRetryableApplicationError(message, code, err)
	}

	a.metrics.RecordActivityExecution(workflows.RunTrackingSessionActivityName, "success")
	logger.Info("Tracking session completed",
		"run_id", input.RunID.String(),
		"events", len(result.Events),
		"thank_you", result.ThankYouPage.Detected,
	)
	return result, nil
}

// ArchiveScreenshots uploads a run's screenshots and returns their keys.
func (a *Activity) ArchiveScreenshots(ctx context.Context, input workflows.ArchiveInput) ([]string, error) {
	keys, err := a.history.ArchiveScreenshots(ctx, input.RunID, &domain.SessionResult{Screenshots: input.Screenshots})
	if err != nil {
		a.metrics.RecordActivityExecution(workflows.ArchiveScreenshotsActivityName, "failed")
		return nil, err
	}
	a.metrics.RecordActivityExecution(workflows.ArchiveScreenshotsActivityName, "success")
	activity.GetLogger(ctx).Info("Screenshots archived", "run_id", input.RunID.String(), "count", len(keys))
	return keys, nil
}

// SaveRunResult stores the final state of a run.
func (a *Activity) SaveRunResult(ctx context.Context, input workflows.SaveRunInput) error {
	run := a.loadRun(ctx, input.RunID, input.Config, input.TriggeredBy)

	var err error
	if input.ErrorCode != "" {
		err = a.history.Fail(ctx, run, failureError(input.ErrorCode, input.Error))
	} else {
		err = a.history.Complete(ctx, run, input.Result, input.ScreenshotKeys)
	}
	if err != nil {
		a.metrics.RecordActivityExecution(workflows.SaveRunResultActivityName, "failed")
		return err
	}

	a.metrics.RecordActivityExecution(workflows.SaveRunResultActivityName, "success")
	a.metrics.RecordWorkflowComplete(workflows.TrackingTestWorkflowName, string(run.Status), time.Since(run.CreatedAt))
	return nil
}

// loadRun returns the stored run, or a fresh one when history is disabled
// or the run was never stored.
func (a *Activity) loadRun(ctx context.Context, id uuid.UUID, cfg domain.TestConfiguration, triggeredBy string) *domain.TrackingRun {
	run, err := a.history.Get(ctx, id)
	if err == nil {
		return run
	}
	if !errors.Is(err, history.ErrDisabled) {
		a.logger.Warn("loading run failed", zap.String("run_id", id.String()), zap.Error(err))
	}

	run = domain.NewTrackingRun(cfg, triggeredBy)
	run.ID = id
	if a.history.Enabled() {
		if err := a.history.Begin(ctx, run); err != nil {
			a.logger.Warn("creating run failed", zap.String("run_id", id.String()), zap.Error(err))
		}
	}
	return run
}

// failureError rebuilds a session error from its code and message so that
// domain.FailureOf yields the same message again.
func failureError(code, message string) error {
	switch code {
	case domain.ErrCodeSessionTimeout:
		return domain.ErrSessionTimeout(0)
	case domain.ErrCodeUnparsable:
		return &domain.RawOutputError{}
	default:
		return domain.NewError(domain.ErrCodeSessionFailed, message, http.StatusOK)
	}
}

func keepAlive(ctx context.Context, lines *atomic.Int64) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx, lines.Load())
			}
		}
	}()
	return func() { close(done) }
}
