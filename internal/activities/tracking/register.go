package tracking

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"

	"github.com/testforge/trackingtester/internal/workflows"
)

// RegisterActivities registers the tracking activities with the Temporal worker
func RegisterActivities(w worker.Worker, a *Activity) {
	w.RegisterActivityWithOptions(a.RunTrackingSession, activity.RegisterOptions{
		Name: workflows.RunTrackingSessionActivityName,
	})

	w.RegisterActivityWithOptions(a.ArchiveScreenshots, activity.RegisterOptions{
		Name: workflows.ArchiveScreenshotsActivityName,
	})

	w.RegisterActivityWithOptions(a.SaveRunResult, activity.RegisterOptions{
		Name: workflows.SaveRunResultActivityName,
	})
}
