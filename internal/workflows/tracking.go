// Package workflows defines the Temporal workflow for asynchronous runs.
package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/testforge/trackingtester/internal/domain"
)

// Names used when registering the workflow and its activities.
const (
	TrackingTestWorkflowName       = "TrackingTestWorkflow"
	RunTrackingSessionActivityName = "RunTrackingSession"
	ArchiveScreenshotsActivityName = "ArchiveScreenshots"
	SaveRunResultActivityName      = "SaveRunResult"
)

// DefaultSessionTimeout applies when the input carries none.
const DefaultSessionTimeout = 2 * time.Minute

// SessionHeartbeatTimeout must exceed the longest gap between action lines.
const SessionHeartbeatTimeout = time.Minute

// WorkflowID returns the workflow ID used for a run.
func WorkflowID(runID string) string {
	return "tracking-test-" + runID
}

// TrackingTestWorkflow runs one session, archives its screenshots and
// stores the outcome. Session failures are recorded on the run and
// returned in the output; the workflow itself completes.
func TrackingTestWorkflow(ctx workflow.Context, input TrackingRunInput) (*TrackingRunOutput, error) {
	logger := workflow.GetLogger(ctx)
	startTime := workflow.Now(ctx)

	logger.Info("Starting tracking test workflow",
		"run_id", input.RunID.String(),
		"url", input.Config.URL,
	)

	output := &TrackingRunOutput{
		RunID:         input.RunID,
		Status:        domain.RunStatusRunning,
		DetectedTools: []domain.Platform{},
	}
	save := SaveRunInput{
		RunID:       input.RunID,
		Config:      input.Config,
		TriggeredBy: input.TriggeredBy,
	}

	result, err := executeSession(ctx, input)
	if err != nil {
		save.ErrorCode, save.Error = sessionFailure(err)
		logger.Warn("Session failed", "code", save.ErrorCode, "error", save.Error)
	} else {
		save.Result = result
		keys, err := executeArchive(ctx, input, result)
		if err != nil {
			logger.Warn("Screenshot archive failed, keeping inline screenshots", "error", err)
		} else {
			save.ScreenshotKeys = keys
		}
	}

	if err := executeSave(ctx, save); err != nil {
		logger.Error("Saving run result failed", "error", err)
	}

	switch save.ErrorCode {
	case "":
		output.Status = domain.RunStatusCompleted
		if result != nil {
			output.EventCount = len(result.Events)
			output.DetectedTools = result.DetectedTools
			output.ThankYou = result.ThankYouPage.Detected
		}
		output.Screenshots = save.ScreenshotKeys
	case domain.ErrCodeSessionTimeout:
		output.Status = domain.RunStatusTimeout
		output.Error = save.Error
	default:
		output.Status = domain.RunStatusFailed
		output.Error = save.Error
	}

	output.CompletedAt = workflow.Now(ctx)
	output.TotalDuration = output.CompletedAt.Sub(startTime)

	logger.Info("Tracking test workflow completed",
		"run_id", input.RunID.String(),
		"status", string(output.Status),
		"duration", output.TotalDuration,
	)

	return output, nil
}

func executeSession(ctx workflow.Context, input TrackingRunInput) (*domain.SessionResult, error) {
	timeout := input.SessionTimeout
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout + time.Minute,
		HeartbeatTimeout:    SessionHeartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var result domain.SessionResult
	err := workflow.ExecuteActivity(ctx, RunTrackingSessionActivityName, SessionInput{
		RunID:  input.RunID,
		Config: input.Config,
	}).Get(ctx, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func executeArchive(ctx workflow.Context, input TrackingRunInput, result *domain.SessionResult) ([]string, error) {
	if len(result.Screenshots) == 0 {
		return nil, nil
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var keys []string
	err := workflow.ExecuteActivity(ctx, ArchiveScreenshotsActivityName, ArchiveInput{
		RunID:       input.RunID,
		Screenshots: result.Screenshots,
	}).Get(ctx, &keys)
	return keys, err
}

func executeSave(ctx workflow.Context, input SaveRunInput) error {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    3,
		},
	})

	return workflow.ExecuteActivity(ctx, SaveRunResultActivityName, input).Get(ctx, nil)
}

// sessionFailure maps a session activity error to an error code and the
// caller-facing message. The activity reports session errors as
// application errors typed with the domain error code.
func sessionFailure(err error) (code, message string) {
	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return domain.ErrCodeSessionTimeout, domain.MsgTestTimeout
	}

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		return appErr.Type(), appErr.Message()
	}

	return domain.FailureOf(err)
}
