// Package history records tracking runs: the Postgres row, the archived
// screenshots and the Redis status cache. Every backend is optional.
package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/testforge/trackingtester/internal/domain"
	"github.com/testforge/trackingtester/internal/observability"
)

// ErrDisabled is returned by lookups when no repository is configured.
var ErrDisabled = errors.New("run history is not configured")

// Archiver uploads a run's screenshots and returns their storage keys.
type Archiver interface {
	Archive(ctx context.Context, runID string, screenshots []string) ([]string, error)
}

// Cache holds recently used runs.
type Cache interface {
	GetRun(ctx context.Context, id uuid.UUID) (*domain.TrackingRun, error)
	SetRun(ctx context.Context, run *domain.TrackingRun) error
}

// Service ties the history backends together.
type Service struct {
	repo    domain.TrackingRunRepository
	archive Archiver
	cache   Cache
	metrics *observability.Metrics
	logger  *zap.Logger
}

// New creates a Service. Any of repo, archive and cache may be nil. A nil
// *Service records nothing.
func New(repo domain.TrackingRunRepository, archive Archiver, cache Cache, metrics *observability.Metrics, logger *zap.Logger) *Service {
	return &Service{repo: repo, archive: archive, cache: cache, metrics: metrics, logger: logger}
}

// Enabled reports whether runs are persisted.
func (s *Service) Enabled() bool {
	return s != nil && s.repo != nil
}

// Begin stores a new pending run.
func (s *Service) Begin(ctx context.Context, run *domain.TrackingRun) error {
	if s.Enabled() {
		if err := s.repo.Create(ctx, run); err != nil {
			return fmt.Errorf("creating run: %w", err)
		}
	}
	s.cacheRun(ctx, run)
	return nil
}

// Start marks run as running.
func (s *Service) Start(ctx context.Context, run *domain.TrackingRun) error {
	run.Start()
	return s.save(ctx, run)
}

// ArchiveScreenshots uploads the result's screenshots. The returned keys are
// empty when no archive is configured.
func (s *Service) ArchiveScreenshots(ctx context.Context, runID uuid.UUID, result *domain.SessionResult) ([]string, error) {
	if s == nil || s.archive == nil || result == nil || len(result.Screenshots) == 0 {
		return nil, nil
	}
	return s.archive.Archive(ctx, runID.String(), result.Screenshots)
}

// Complete stores a successful result. Archived screenshots are kept as
// keys on the run and dropped from the stored result.
func (s *Service) Complete(ctx context.Context, run *domain.TrackingRun, result *domain.SessionResult, keys []string) error {
	stored := result
	if len(keys) > 0 && result != nil {
		copied := *result
		copied.Screenshots = []string{}
		stored = &copied
	}
	run.Complete(stored)
	run.Screenshots = keys
	return s.save(ctx, run)
}

// Fail stores a failed or timed-out run.
func (s *Service) Fail(ctx context.Context, run *domain.TrackingRun, cause error) error {
	run.Fail(cause)
	return s.save(ctx, run)
}

// Finish archives and completes a run in one step, or fails it when
// sessionErr is set.
func (s *Service) Finish(ctx context.Context, run *domain.TrackingRun, result *domain.SessionResult, sessionErr error) error {
	if sessionErr != nil {
		return s.Fail(ctx, run, sessionErr)
	}

	keys, err := s.ArchiveScreenshots(ctx, run.ID, result)
	if err != nil {
		s.logger.Warn("archiving screenshots failed", zap.String("run_id", run.ID.String()), zap.Error(err))
		keys = nil
	}
	return s.Complete(ctx, run, result, keys)
}

// Get returns a run from the cache or the repository.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.TrackingRun, error) {
	if s != nil && s.cache != nil {
		run, err := s.cache.GetRun(ctx, id)
		if err != nil {
			s.logger.Debug("run cache read failed", zap.Error(err))
		}
		if run != nil {
			return run, nil
		}
	}
	if !s.Enabled() {
		return nil, ErrDisabled
	}

	run, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheRun(ctx, run)
	return run, nil
}

// List returns recent runs and the total count.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*domain.TrackingRun, int, error) {
	if !s.Enabled() {
		return nil, 0, ErrDisabled
	}
	return s.repo.List(ctx, limit, offset)
}

// SetWorkflowID records the workflow executing run.
func (s *Service) SetWorkflowID(ctx context.Context, run *domain.TrackingRun, workflowID string) error {
	run.WorkflowID = workflowID
	if !s.Enabled() {
		return nil
	}
	return s.repo.SetWorkflowID(ctx, run.ID, workflowID)
}

func (s *Service) save(ctx context.Context, run *domain.TrackingRun) error {
	if s.Enabled() {
		if err := s.repo.Update(ctx, run); err != nil {
			s.metrics.RecordRunPersisted("error")
			return fmt.Errorf("updating run: %w", err)
		}
		s.metrics.RecordRunPersisted(string(run.Status))
	}
	s.cacheRun(ctx, run)
	return nil
}

func (s *Service) cacheRun(ctx context.Context, run *domain.TrackingRun) {
	if s == nil || s.cache == nil {
		return
	}
	if err := s.cache.SetRun(ctx, run); err != nil {
		s.logger.Debug("run cache write failed", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
}
