package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TrackingRun is the persisted record of one session.
type TrackingRun struct {
	ID            uuid.UUID         `json:"id" db:"id"`
	Status        RunStatus         `json:"status" db:"status"`
	TargetURL     string            `json:"target_url" db:"target_url"`
	Config        TestConfiguration `json:"config"`
	WorkflowID    string            `json:"workflow_id,omitempty" db:"workflow_id"`
	Result        *SessionResult    `json:"result,omitempty"`
	Error         string            `json:"error,omitempty" db:"error"`
	DetectedTools []Platform        `json:"detected_tools"`
	EventCount    int               `json:"event_count" db:"event_count"`
	ThankYou      bool              `json:"thank_you_detected" db:"thank_you_detected"`
	Screenshots   []string          `json:"screenshot_keys,omitempty"`
	TriggeredBy   string            `json:"triggered_by" db:"triggered_by"` // api, cli, workflow
	StartedAt     *time.Time        `json:"started_at,omitempty" db:"started_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
	Timestamps
}

// NewTrackingRun creates a pending run for cfg.
func NewTrackingRun(cfg TestConfiguration, triggeredBy string) *TrackingRun {
	now := time.Now().UTC()
	return &TrackingRun{
		ID:            uuid.New(),
		Status:        RunStatusPending,
		TargetURL:     cfg.URL,
		Config:        cfg,
		DetectedTools: []Platform{},
		TriggeredBy:   triggeredBy,
		Timestamps: Timestamps{
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// Start marks the run as started
func (r *TrackingRun) Start() {
	now := time.Now().UTC()
	r.Status = RunStatusRunning
	r.StartedAt = &now
	r.UpdatedAt = now
}

// Complete stores the result and derived summary columns.
func (r *TrackingRun) Complete(result *SessionResult) {
	now := time.Now().UTC()
	r.Status = RunStatusCompleted
	r.Result = result
	if result != nil {
		r.DetectedTools = result.DetectedTools
		r.EventCount = len(result.Events)
		r.ThankYou = result.ThankYouPage.Detected
	}
	r.CompletedAt = &now
	r.UpdatedAt = now
}

// Fail marks the run as failed, or timed out when err is a session timeout.
// Error holds the caller-facing message.
func (r *TrackingRun) Fail(err error) {
	now := time.Now().UTC()
	r.Status = RunStatusFailed
	if IsCode(err, ErrCodeSessionTimeout) {
		r.Status = RunStatusTimeout
	}
	if err != nil {
		_, r.Error = FailureOf(err)
	}
	r.CompletedAt = &now
	r.UpdatedAt = now
}

// TrackingRunRepository defines data access for tracking runs
type TrackingRunRepository interface {
	Create(ctx context.Context, run *TrackingRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*TrackingRun, error)
	List(ctx context.Context, limit, offset int) ([]*TrackingRun, int, error)
	Update(ctx context.Context, run *TrackingRun) error
	SetWorkflowID(ctx context.Context, id uuid.UUID, workflowID string) error
}
