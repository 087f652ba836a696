package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/testforge/trackingtester/internal/domain"
)

// TrackingRunRepository implements domain.TrackingRunRepository with PostgreSQL
type TrackingRunRepository struct {
	db *sqlx.DB
}

var _ domain.TrackingRunRepository = (*TrackingRunRepository)(nil)

// NewTrackingRunRepository creates a new tracking run repository
func NewTrackingRunRepository(db *sqlx.DB) *TrackingRunRepository {
	return &TrackingRunRepository{db: db}
}

const trackingRunColumns = `
	id, status, target_url, config, workflow_id, result, error,
	detected_tools, event_count, thank_you_detected, screenshot_keys,
	triggered_by, started_at, completed_at, created_at, updated_at`

type trackingRunRow struct {
	ID             uuid.UUID      `db:"id"`
	Status         string         `db:"status"`
	TargetURL      string         `db:"target_url"`
	Config         []byte         `db:"config"`
	WorkflowID     sql.NullString `db:"workflow_id"`
	Result         []byte         `db:"result"`
	Error          sql.NullString `db:"error"`
	DetectedTools  []byte         `db:"detected_tools"`
	EventCount     int            `db:"event_count"`
	ThankYou       bool           `db:"thank_you_detected"`
	ScreenshotKeys pq.StringArray `db:"screenshot_keys"`
	TriggeredBy    string         `db:"triggered_by"`
	StartedAt      *time.Time     `db:"started_at"`
	CompletedAt    *time.Time     `db:"completed_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r *trackingRunRow) toDomain() (*domain.TrackingRun, error) {
	run := &domain.TrackingRun{
		ID:            r.ID,
		Status:        domain.RunStatus(r.Status),
		TargetURL:     r.TargetURL,
		WorkflowID:    r.WorkflowID.String,
		Error:         r.Error.String,
		DetectedTools: []domain.Platform{},
		EventCount:    r.EventCount,
		ThankYou:      r.ThankYou,
		Screenshots:   []string(r.ScreenshotKeys),
		TriggeredBy:   r.TriggeredBy,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
		Timestamps: domain.Timestamps{
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		},
	}

	if err := json.Unmarshal(r.Config, &run.Config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if r.DetectedTools != nil {
		if err := json.Unmarshal(r.DetectedTools, &run.DetectedTools); err != nil {
			return nil, fmt.Errorf("decoding detected tools: %w", err)
		}
	}
	if r.Result != nil {
		var result domain.SessionResult
		if err := json.Unmarshal(r.Result, &result); err != nil {
			return nil, fmt.Errorf("decoding result: %w", err)
		}
		run.Result = &result
	}

	return run, nil
}

// jsonColumns marshals the JSONB columns of run. A nil result stays NULL.
func jsonColumns(run *domain.TrackingRun) (cfg, result, tools any, err error) {
	if cfg, err = json.Marshal(run.Config); err != nil {
		return nil, nil, nil, err
	}
	detected := run.DetectedTools
	if detected == nil {
		detected = []domain.Platform{}
	}
	if tools, err = json.Marshal(detected); err != nil {
		return nil, nil, nil, err
	}
	if run.Result != nil {
		data, err := json.Marshal(run.Result)
		if err != nil {
			return nil, nil, nil, err
		}
		result = data
	}
	return cfg, result, tools, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts a new tracking run
func (r *TrackingRunRepository) Create(ctx context.Context, run *domain.TrackingRun) error {
	cfg, result, tools, err := jsonColumns(run)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tracking_runs (` + trackingRunColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		string(run.Status),
		run.TargetURL,
		cfg,
		nullString(run.WorkflowID),
		result,
		nullString(run.Error),
		tools,
		run.EventCount,
		run.ThankYou,
		pq.StringArray(run.Screenshots),
		run.TriggeredBy,
		run.StartedAt,
		run.CompletedAt,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrValidationField("id", fmt.Sprintf("tracking run %s already exists", run.ID))
		}
		return err
	}

	return nil
}

// GetByID retrieves a tracking run by ID
func (r *TrackingRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.TrackingRun, error) {
	query := `SELECT ` + trackingRunColumns + ` FROM tracking_runs WHERE id = $1`

	var row trackingRunRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundError("tracking_run", id)
		}
		return nil, err
	}

	return row.toDomain()
}

// List returns runs newest first together with the total count.
func (r *TrackingRunRepository) List(ctx context.Context, limit, offset int) ([]*domain.TrackingRun, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM tracking_runs`); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + trackingRunColumns + `
		FROM tracking_runs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	var rows []trackingRunRow
	if err := r.db.SelectContext(ctx, &rows, query, limit, offset); err != nil {
		return nil, 0, err
	}

	runs := make([]*domain.TrackingRun, len(rows))
	for i := range rows {
		run, err := rows[i].toDomain()
		if err != nil {
			return nil, 0, err
		}
		runs[i] = run
	}

	return runs, total, nil
}

// Update writes the mutable fields of run
func (r *TrackingRunRepository) Update(ctx context.Context, run *domain.TrackingRun) error {
	_, result, tools, err := jsonColumns(run)
	if err != nil {
		return err
	}

	run.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE tracking_runs
		SET status = $2, workflow_id = $3, result = $4, error = $5,
		    detected_tools = $6, event_count = $7, thank_you_detected = $8,
		    screenshot_keys = $9, started_at = $10, completed_at = $11, updated_at = $12
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query,
		run.ID,
		string(run.Status),
		nullString(run.WorkflowID),
		result,
		nullString(run.Error),
		tools,
		run.EventCount,
		run.ThankYou,
		pq.StringArray(run.Screenshots),
		run.StartedAt,
		run.CompletedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.NotFoundError("tracking_run", run.ID)
	}

	return nil
}

// SetWorkflowID records the workflow executing the run
func (r *TrackingRunRepository) SetWorkflowID(ctx context.Context, id uuid.UUID, workflowID string) error {
	query := `UPDATE tracking_runs SET workflow_id = $2, updated_at = NOW() WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, workflowID)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.NotFoundError("tracking_run", id)
	}

	return nil
}
