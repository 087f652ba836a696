package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/testforge/trackingtester/internal/domain"
	"github.com/testforge/trackingtester/internal/observability"
	"github.com/testforge/trackingtester/internal/services/history"
	tclient "github.com/testforge/trackingtester/internal/temporal"
	"github.com/testforge/trackingtester/internal/workflows"
	"github.com/testforge/trackingtester/pkg/httputil"
)

// WorkflowStarter starts Temporal workflows. client.Client satisfies it.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// ActionSubscriber streams the live action lines of a run.
type ActionSubscriber interface {
	SubscribeActions(ctx context.Context, id uuid.UUID) (<-chan string, error)
}

// WorkflowDescriber reports the state of a workflow execution.
type WorkflowDescriber interface {
	GetWorkflowStatus(ctx context.Context, workflowID, runID string) (*tclient.WorkflowStatus, error)
}

// RunHandler handles asynchronous runs and run history.
type RunHandler struct {
	starter        WorkflowStarter
	describer      WorkflowDescriber
	taskQueue      string
	sessionTimeout time.Duration
	history        *history.Service
	subscriber     ActionSubscriber
	metrics        *observability.Metrics
	logger         *zap.Logger
}

// RunHandlerConfig holds the dependencies of a RunHandler. Starter and
// Subscriber may be nil; the routes they serve then answer 503.
type RunHandlerConfig struct {
	Starter        WorkflowStarter
	Describer      WorkflowDescriber
	TaskQueue      string
	SessionTimeout time.Duration
	History        *history.Service
	Subscriber     ActionSubscriber
	Metrics        *observability.Metrics
	Logger         *zap.Logger
}

// NewRunHandler creates a new run handler
func NewRunHandler(cfg RunHandlerConfig) *RunHandler {
	return &RunHandler{
		starter:        cfg.Starter,
		describer:      cfg.Describer,
		taskQueue:      cfg.TaskQueue,
		sessionTimeout: cfg.SessionTimeout,
		history:        cfg.History,
		subscriber:     cfg.Subscriber,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
	}
}

// CreateRunResponse is returned when an asynchronous run is accepted.
type CreateRunResponse struct {
	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
}

// Create handles POST /api/runs
func (h *RunHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.starter == nil {
		httputil.JSONError(w, http.StatusServiceUnavailable, domain.ErrCodeServiceUnavail, "Asynchronous runs are not configured")
		return
	}
	if !h.history.Enabled() {
		httputil.JSONError(w, http.StatusServiceUnavailable, domain.ErrCodeServiceUnavail, "Run history is not configured")
		return
	}

	var req domain.TestRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.JSONError(w, http.StatusBadRequest, domain.ErrCodeBadRequest, err.Error())
		return
	}

	cfg, err := req.ToConfiguration()
	if err != nil {
		httputil.SessionError(w, err)
		return
	}

	run := domain.NewTrackingRun(cfg, "api")
	run.ID = runIDFrom(r)
	if err := h.history.Begin(r.Context(), run); err != nil {
		h.logger.Error("Failed to create run", zap.Error(err))
		httputil.ErrorFromDomain(w, err)
		return
	}

	workflowID := workflows.WorkflowID(run.ID.String())
	options := client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: h.taskQueue,
	}
	input := workflows.TrackingRunInput{
		RunID:          run.ID,
		Config:         cfg,
		TriggeredBy:    run.TriggeredBy,
		SessionTimeout: h.sessionTimeout,
	}

	if _, err := h.starter.ExecuteWorkflow(r.Context(), options, workflows.TrackingTestWorkflowName, input); err != nil {
		h.logger.Error("Failed to start workflow", zap.String("run_id", run.ID.String()), zap.Error(err))
		if ferr := h.history.Fail(r.Context(), run, fmt.Errorf("starting workflow: %w", err)); ferr != nil {
			h.logger.Warn("Failed to mark run as failed", zap.Error(ferr))
		}
		httputil.JSONError(w, http.StatusInternalServerError, domain.ErrCodeInternal, "Failed to start run")
		return
	}
	h.metrics.RecordWorkflowStart(workflows.TrackingTestWorkflowName)

	if err := h.history.SetWorkflowID(r.Context(), run, workflowID); err != nil {
		h.logger.Warn("Failed to store workflow ID", zap.String("run_id", run.ID.String()), zap.Error(err))
	}

	h.logger.Info("Run started",
		zap.String("run_id", run.ID.String()),
		zap.String("workflow_id", workflowID),
		zap.String("url", cfg.URL),
	)

	w.Header().Set(RunIDHeader, run.ID.String())
	httputil.JSON(w, http.StatusAccepted, CreateRunResponse{RunID: run.ID.String(), WorkflowID: workflowID})
}

// Get handles GET /api/runs/{id}
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRunID(w, r)
	if !ok {
		return
	}

	run, err := h.history.Get(r.Context(), id)
	if err != nil {
		h.historyError(w, err)
		return
	}

	response := RunResponse{TrackingRun: run}
	if h.describer != nil && run.WorkflowID != "" && !run.Status.IsTerminal() {
		status, err := h.describer.GetWorkflowStatus(r.Context(), run.WorkflowID, "")
		if err != nil {
			h.logger.Warn("Failed to describe workflow", zap.String("workflow_id", run.WorkflowID), zap.Error(err))
		} else {
			response.WorkflowStatus = status.String()
		}
	}

	httputil.JSON(w, http.StatusOK, response)
}

// RunResponse is a stored run, with the workflow state while it is active.
type RunResponse struct {
	*domain.TrackingRun
	WorkflowStatus string `json:"workflow_status,omitempty"`
}

// List handles GET /api/runs
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	pagination := httputil.GetPagination(r, 20, 100)

	runs, total, err := h.history.List(r.Context(), pagination.Limit, pagination.Offset)
	if err != nil {
		h.historyError(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, runs, &httputil.Meta{
		Limit:  pagination.Limit,
		Offset: pagination.Offset,
		Total:  total,
	})
}

// Actions handles GET /api/runs/{id}/actions. It streams the run's action
// lines as server-sent events until the run ends or the client leaves.
func (h *RunHandler) Actions(w http.ResponseWriter, r *http.Request) {
	if h.subscriber == nil {
		httputil.JSONError(w, http.StatusServiceUnavailable, domain.ErrCodeServiceUnavail, "Live feed is not configured")
		return
	}

	id, ok := parseRunID(w, r)
	if !ok {
		return
	}

	lines, err := h.subscriber.SubscribeActions(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to subscribe to actions", zap.String("run_id", id.String()), zap.Error(err))
		httputil.JSONError(w, http.StatusServiceUnavailable, domain.ErrCodeServiceUnavail, "Live feed is unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	for line := range lines {
		if _, err := io.WriteString(w, sseData(line)); err != nil {
			return
		}
		_ = rc.Flush()
	}

	if r.Context().Err() == nil {
		fmt.Fprint(w, "event: done\ndata: \n\n")
		_ = rc.Flush()
	}
}

// sseData frames msg as one event with a data field per line.
func sseData(msg string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.ReplaceAll(msg, "\r\n", "\n"), "\n") {
		b.WriteString("data: ")
		b.WriteString(strings.TrimSuffix(line, "\r"))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}

func (h *RunHandler) historyError(w http.ResponseWriter, err error) {
	if errors.Is(err, history.ErrDisabled) {
		httputil.JSONError(w, http.StatusServiceUnavailable, domain.ErrCodeServiceUnavail, "Run history is not configured")
		return
	}
	if !errors.Is(err, domain.ErrNotFound) {
		h.logger.Error("Run history lookup failed", zap.Error(err))
	}
	httputil.ErrorFromDomain(w, err)
}

func parseRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "INVALID_ID", "Invalid run ID format")
		return uuid.Nil, false
	}
	return id, true
}
