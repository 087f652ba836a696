// Package memory keeps run history in process memory. The API server uses
// it when no database is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/testforge/trackingtester/internal/domain"
)

// DefaultCapacity bounds the number of runs kept.
const DefaultCapacity = 500

// TrackingRunRepository implements domain.TrackingRunRepository in memory.
// The oldest runs are evicted once capacity is reached.
type TrackingRunRepository struct {
	mu       sync.RWMutex
	runs     map[uuid.UUID]domain.TrackingRun
	capacity int
}

var _ domain.TrackingRunRepository = (*TrackingRunRepository)(nil)

// NewTrackingRunRepository creates a repository holding up to capacity runs.
func NewTrackingRunRepository(capacity int) *TrackingRunRepository {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &TrackingRunRepository{runs: make(map[uuid.UUID]domain.TrackingRun), capacity: capacity}
}

func (r *TrackingRunRepository) Create(ctx context.Context, run *domain.TrackingRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[run.ID]; ok {
		return domain.ErrValidationField("id", fmt.Sprintf("tracking run %s already exists", run.ID))
	}
	if len(r.runs) >= r.capacity {
		r.evictOldest()
	}
	r.runs[run.ID] = *run
	return nil
}

func (r *TrackingRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.TrackingRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, domain.NotFoundError("tracking_run", id)
	}
	return &run, nil
}

// List returns runs newest first together with the total count.
func (r *TrackingRunRepository) List(ctx context.Context, limit, offset int) ([]*domain.TrackingRun, int, error) {
	r.mu.RLock()
	all := make([]domain.TrackingRun, 0, len(r.runs))
	for _, run := range r.runs {
		all = append(all, run)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if offset >= total {
		return []*domain.TrackingRun{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	out := make([]*domain.TrackingRun, 0, end-offset)
	for i := offset; i < end; i++ {
		out = append(out, &all[i])
	}
	return out, total, nil
}

func (r *TrackingRunRepository) Update(ctx context.Context, run *domain.TrackingRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[run.ID]; !ok {
		return domain.NotFoundError("tracking_run", run.ID)
	}
	run.UpdatedAt = time.Now().UTC()
	r.runs[run.ID] = *run
	return nil
}

func (r *TrackingRunRepository) SetWorkflowID(ctx context.Context, id uuid.UUID, workflowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return domain.NotFoundError("tracking_run", id)
	}
	run.WorkflowID = workflowID
	run.UpdatedAt = time.Now().UTC()
	r.runs[id] = run
	return nil
}

func (r *TrackingRunRepository) evictOldest() {
	var oldest uuid.UUID
	var oldestAt time.Time
	for id, run := range r.runs {
		if oldestAt.IsZero() || run.CreatedAt.Before(oldestAt) {
			oldest, oldestAt = id, run.CreatedAt
		}
	}
	delete(r.runs, oldest)
}
