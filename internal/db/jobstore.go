package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spoolworks/mediaspool/internal/jobs"
)

// JobStore implements jobs.Store on Postgres. The compare-and-set
// transitions are expressed as conditional UPDATEs so concurrent processes
// agree on exactly one winner.
type JobStore struct {
	db *DatabaseConnection
}

func NewJobStore(db *DatabaseConnection) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, kind, fingerprint, owner, params, state, progress, result, error,
	created_at, started_at, finished_at, last_heartbeat, webhook_targets`

func scanJob(row pgx.Row) (*jobs.Job, error) {
	var j jobs.Job
	err := row.Scan(
		&j.ID, &j.Kind, &j.Fingerprint, &j.Owner, &j.Params, &j.State, &j.Progress,
		&j.Result, &j.Error, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
		&j.LastHeartbeat, &j.WebhookTargets,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, jobs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}

func (s *JobStore) Insert(ctx context.Context, j *jobs.Job) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		j.ID, j.Kind, j.Fingerprint, j.Owner, j.Params, j.State, j.Progress,
		j.Result, j.Error, j.CreatedAt, j.StartedAt, j.FinishedAt,
		j.LastHeartbeat, j.WebhookTargets,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*jobs.Job, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (s *JobStore) ListByOwner(ctx context.Context, owner string, limit int) ([]*jobs.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE owner = $1
		ORDER BY created_at DESC
		LIMIT $2`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *JobStore) MarkRunning(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs
		SET state = $2, started_at = $3, last_heartbeat = $3
		WHERE id = $1 AND state = $4`,
		id, jobs.StateRunning, at, jobs.StateQueued)
	if err != nil {
		return false, fmt.Errorf("mark running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, s.missing(ctx, id)
	}
	return true, nil
}

func (s *JobStore) UpdateProgress(ctx context.Context, id string, progress int, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs
		SET progress = $2, last_heartbeat = $3
		WHERE id = $1 AND state = $4 AND progress <= $2`,
		id, progress, at, jobs.StateRunning)
	if err != nil {
		return false, fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, s.missing(ctx, id)
	}
	return true, nil
}

func (s *JobStore) Finalize(ctx context.Context, id string, state jobs.State, result map[string]any, jobErr *jobs.JobError, at time.Time) (bool, error) {
	progressExpr := "progress"
	if state == jobs.StateSucceeded {
		progressExpr = "100"
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs
		SET state = $2, result = $3, error = $4, finished_at = $5, progress = `+progressExpr+`
		WHERE id = $1 AND state IN ($6, $7)`,
		id, state, result, jobErr, at, jobs.StateQueued, jobs.StateRunning)
	if err != nil {
		return false, fmt.Errorf("finalize job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, s.missing(ctx, id)
	}
	return true, nil
}

func (s *JobStore) Running(ctx context.Context, staleBefore time.Time) ([]*jobs.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE state = $1`
	args := []any{jobs.StateRunning}
	if !staleBefore.IsZero() {
		query += ` AND last_heartbeat < $2`
		args = append(args, staleBefore)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list running jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *JobStore) Queued(ctx context.Context) ([]*jobs.Job, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE state = $1
		ORDER BY created_at ASC`, jobs.StateQueued)
	if err != nil {
		return nil, fmt.Errorf("list queued jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *JobStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM jobs
		WHERE state IN ($1, $2, $3) AND finished_at < $4`,
		jobs.StateSucceeded, jobs.StateFailed, jobs.StateCancelled, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *JobStore) Ping(ctx context.Context) error {
	return s.db.Pool.Ping(ctx)
}

// missing distinguishes "CAS lost" from "no such job" after a zero-row
// UPDATE.
func (s *JobStore) missing(ctx context.Context, id string) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check job existence: %w", err)
	}
	if !exists {
		return jobs.ErrNotFound
	}
	return nil
}

func collectJobs(rows pgx.Rows) ([]*jobs.Job, error) {
	out := make([]*jobs.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
