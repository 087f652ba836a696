package workflows

import (
	"time"

	"github.com/google/uuid"

	"github.com/testforge/trackingtester/internal/domain"
)

// TrackingRunInput is the input of TrackingTestWorkflow.
type TrackingRunInput struct {
	RunID          uuid.UUID                `json:"run_id"`
	Config         domain.TestConfiguration `json:"config"`
	TriggeredBy    string                   `json:"triggered_by"`
	SessionTimeout time.Duration            `json:"session_timeout"`
}

// TrackingRunOutput summarizes a finished run.
type TrackingRunOutput struct {
	RunID         uuid.UUID         `json:"run_id"`
	Status        domain.RunStatus  `json:"status"`
	Error         string            `json:"error,omitempty"`
	EventCount    int               `json:"event_count"`
	DetectedTools []domain.Platform `json:"detected_tools"`
	ThankYou      bool              `json:"thank_you_detected"`
	Screenshots   []string          `json:"screenshot_keys,omitempty"`
	CompletedAt   time.Time         `json:"completed_at"`
	TotalDuration time.Duration     `json:"total_duration"`
}

// SessionInput is the input of the session activity.
type SessionInput struct {
	RunID  uuid.UUID                `json:"run_id"`
	Config domain.TestConfiguration `json:"config"`
}

// ArchiveInput is the input of the screenshot archive activity.
type ArchiveInput struct {
	RunID       uuid.UUID `json:"run_id"`
	Screenshots []string  `json:"screenshots"`
}

// SaveRunInput is the input of the activity storing the final run state.
// ErrorCode is empty for successful sessions.
type SaveRunInput struct {
	RunID          uuid.UUID                `json:"run_id"`
	Config         domain.TestConfiguration `json:"config"`
	TriggeredBy    string                   `json:"triggered_by"`
	Result         *domain.SessionResult    `json:"result,omitempty"`
	ScreenshotKeys []string                 `json:"screenshot_keys,omitempty"`
	ErrorCode      string                   `json:"error_code,omitempty"`
	Error          string                   `json:"error,omitempty"`
}
