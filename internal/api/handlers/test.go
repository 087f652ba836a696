package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/testforge/trackingtester/internal/domain"
	"github.com/testforge/trackingtester/internal/runner"
	"github.com/testforge/trackingtester/internal/services/history"
	"github.com/testforge/trackingtester/internal/services/session"
	"github.com/testforge/trackingtester/pkg/httputil"
)

// RunIDHeader carries the run ID of a synchronous test. Callers may set it
// to subscribe to the live feed before the response arrives.
const RunIDHeader = "X-Run-ID"

// recordTimeout bounds persisting a finished run after the response is
// decided.
const recordTimeout = 30 * time.Second

// Feed publishes the live action lines of a run.
type Feed interface {
	PublishAction(ctx context.Context, id uuid.UUID, line string) error
	CloseFeed(ctx context.Context, id uuid.UUID) error
}

// TestHandler runs synchronous tracking tests.
type TestHandler struct {
	runner  runner.Runner
	history *history.Service
	feed    Feed
	logger  *zap.Logger
}

// NewTestHandler creates a TestHandler. history and feed may be nil.
func NewTestHandler(r runner.Runner, h *history.Service, feed Feed, logger *zap.Logger) *TestHandler {
	return &TestHandler{runner: r, history: h, feed: feed, logger: logger}
}

// Run handles POST /api/test
func (h *TestHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req domain.TestRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.SessionError(w, domain.ErrValidationField("body", err.Error()))
		return
	}

	cfg, err := req.ToConfiguration()
	if err != nil {
		httputil.SessionError(w, err)
		return
	}

	runID := runIDFrom(r)
	w.Header().Set(RunIDHeader, runID.String())

	run := domain.NewTrackingRun(cfg, "api")
	run.ID = runID
	h.begin(r.Context(), run)

	opts := []session.RunOption{session.WithRunID(runID.String())}
	if h.feed != nil {
		opts = append(opts, session.WithActionHook(func(line string) {
			if err := h.feed.PublishAction(r.Context(), runID, line); err != nil {
				h.logger.Debug("publishing action failed", zap.Error(err))
			}
		}))
		defer func() {
			_ = h.feed.CloseFeed(context.WithoutCancel(r.Context()), runID)
		}()
	}

	h.logger.Info("Tracking test started",
		zap.String("run_id", runID.String()),
		zap.String("url", cfg.URL),
		zap.String("runner", h.runner.Kind()),
	)

	result, err := h.runner.Run(r.Context(), cfg, opts...)
	h.record(r.Context(), run, result, err)

	if err != nil {
		h.logger.Warn("Tracking test failed", zap.String("run_id", runID.String()), zap.Error(err))
		httputil.SessionError(w, err)
		return
	}

	h.logger.Info("Tracking test completed",
		zap.String("run_id", runID.String()),
		zap.Int("events", len(result.Events)),
		zap.Bool("thank_you", result.ThankYouPage.Detected),
	)
	httputil.JSON(w, http.StatusOK, result)
}

func (h *TestHandler) begin(ctx context.Context, run *domain.TrackingRun) {
	if err := h.history.Begin(ctx, run); err != nil {
		h.logger.Warn("Failed to store run", zap.String("run_id", run.ID.String()), zap.Error(err))
		return
	}
	if err := h.history.Start(ctx, run); err != nil {
		h.logger.Warn("Failed to mark run as running", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
}

// record stores the outcome of a run. It outlives a cancelled request so
// that disconnects are still recorded.
func (h *TestHandler) record(ctx context.Context, run *domain.TrackingRun, result *domain.SessionResult, sessionErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := h.history.Finish(ctx, run, result, sessionErr); err != nil {
		h.logger.Warn("Failed to record run", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
}

// runIDFrom returns the caller-supplied run ID or a new one.
func runIDFrom(r *http.Request) uuid.UUID {
	if id, err := uuid.Parse(r.Header.Get(RunIDHeader)); err == nil && id != uuid.Nil {
		return id
	}
	return uuid.New()
}
