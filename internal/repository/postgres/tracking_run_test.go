package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testforge/trackingtester/internal/domain"
	"github.com/testforge/trackingtester/migrations"
)

func newRun(url string) *domain.TrackingRun {
	return domain.NewTrackingRun(domain.TestConfiguration{
		URL:             url,
		Headless:        true,
		SkipNewsletters: true,
	}, "api")
}

func TestTrackingRunRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := startDB(t)
	repo := NewTrackingRunRepository(db.DB)
	ctx := context.Background()

	t.Run("Migrations are idempotent", func(t *testing.T) {
		require.NoError(t, db.Migrate(ctx, migrations.FS))
	})

	t.Run("Create and GetByID", func(t *testing.T) {
		resetRuns(t, db)

		run := newRun("https://example.com/contact")
		require.NoError(t, repo.Create(ctx, run))

		got, err := repo.GetByID(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, domain.RunStatusPending, got.Status)
		assert.Equal(t, "https://example.com/contact", got.TargetURL)
		assert.Equal(t, run.Config, got.Config)
		assert.Empty(t, got.DetectedTools)
		assert.Nil(t, got.Result)
		assert.Empty(t, got.WorkflowID)
	})

	t.Run("Create duplicate", func(t *testing.T) {
		resetRuns(t, db)

		run := newRun("https://example.com")
		require.NoError(t, repo.Create(ctx, run))
		err := repo.Create(ctx, run)
		assert.True(t, domain.IsCode(err, domain.ErrCodeValidation))
	})

	t.Run("GetByID not found", func(t *testing.T) {
		_, err := repo.GetByID(ctx, uuid.New())
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("Update with result", func(t *testing.T) {
		resetRuns(t, db)

		run := newRun("https://example.com")
		require.NoError(t, repo.Create(ctx, run))

		run.Start()
		result := domain.NewSessionResult()
		result.Actions = []string{"📄 Loaded: Example"}
		eventName := "generate_lead"
		result.Events = []domain.TrackingEvent{{
			Platform:  domain.PlatformGA4,
			EventName: eventName,
			URL:       "https://www.google-analytics.com/g/collect?en=generate_lead",
			Status:    domain.ClassifyStatus(204),
			Payload:   domain.GA4Payload{EventName: &eventName},
		}}
		result.DetectedTools = []domain.Platform{domain.PlatformGA4}
		result.ThankYouPage.Detected = true
		run.Complete(result)
		run.Screenshots = []string{"s3://bucket/screenshots/a/before.png"}
		require.NoError(t, repo.Update(ctx, run))

		got, err := repo.GetByID(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusCompleted, got.Status)
		assert.Equal(t, 1, got.EventCount)
		assert.True(t, got.ThankYou)
		assert.Equal(t, []domain.Platform{domain.PlatformGA4}, got.DetectedTools)
		assert.Equal(t, run.Screenshots, got.Screenshots)
		require.NotNil(t, got.Result)
		assert.Equal(t, result.Actions, got.Result.Actions)
		require.Len(t, got.Result.Events, 1)
		assert.Equal(t, domain.PlatformGA4, got.Result.Events[0].Platform)
		assert.Equal(t, domain.GA4Payload{EventName: &eventName}, got.Result.Events[0].Payload)
		require.NotNil(t, got.StartedAt)
		require.NotNil(t, got.CompletedAt)
	})

	t.Run("Update timeout", func(t *testing.T) {
		resetRuns(t, db)

		run := newRun("https://example.com")
		require.NoError(t, repo.Create(ctx, run))
		run.Fail(domain.ErrSessionTimeout(time.Minute))
		require.NoError(t, repo.Update(ctx, run))

		got, err := repo.GetByID(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusTimeout, got.Status)
		assert.Equal(t, domain.MsgTestTimeout, got.Error)
	})

	t.Run("Update not found", func(t *testing.T) {
		err := repo.Update(ctx, newRun("https://example.com"))
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("SetWorkflowID", func(t *testing.T) {
		resetRuns(t, db)

		run := newRun("https://example.com")
		require.NoError(t, repo.Create(ctx, run))
		require.NoError(t, repo.SetWorkflowID(ctx, run.ID, "tracking-test-"+run.ID.String()))

		got, err := repo.GetByID(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, "tracking-test-"+run.ID.String(), got.WorkflowID)

		err = repo.SetWorkflowID(ctx, uuid.New(), "x")
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("List newest first", func(t *testing.T) {
		resetRuns(t, db)

		var ids []uuid.UUID
		for i := 0; i < 3; i++ {
			run := newRun("https://example.com")
			run.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
			require.NoError(t, repo.Create(ctx, run))
			ids = append(ids, run.ID)
		}

		runs, total, err := repo.List(ctx, 2, 0)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, runs, 2)
		assert.Equal(t, ids[2], runs[0].ID)
		assert.Equal(t, ids[1], runs[1].ID)

		runs, _, err = repo.List(ctx, 2, 2)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, ids[0], runs[0].ID)
	})
}
