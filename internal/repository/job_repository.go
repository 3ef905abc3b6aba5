package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pixelvault/pixelvault/internal/models"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	const query = `
INSERT INTO jobs (id, user_id, prompt, negative_prompt, model_choice, width, height, status)
VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, job.ID, job.UserID, job.Prompt, job.NegativePrompt, job.ModelChoice, job.Width, job.Height, job.Status); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) FindByID(ctx context.Context, id string) (*models.Job, error) {
	const query = `
SELECT id, user_id, prompt, COALESCE(negative_prompt, ''), model_choice, width, height, status, result, COALESCE(error, ''), created_at, started_at, finished_at
FROM jobs WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// MarkProcessing moves a pending job to processing. The status guard in the
// WHERE clause keeps transitions forward-only even if a job id is enqueued
// twice.
func (r *JobRepository) MarkProcessing(ctx context.Context, id string) (bool, error) {
	const query = `
UPDATE jobs SET status = ?, started_at = NOW()
WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, query, models.JobStatusProcessing, id, models.JobStatusPending)
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("processing rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *JobRepository) MarkCompleted(ctx context.Context, id string, result *models.JobResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	const query = `
UPDATE jobs SET status = ?, result = ?, finished_at = NOW()
WHERE id = ? AND status = ?`
	if _, err := r.db.ExecContext(ctx, query, models.JobStatusCompleted, payload, id, models.JobStatusProcessing); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

func (r *JobRepository) MarkFailed(ctx context.Context, id string, message string) error {
	const query = `
UPDATE jobs SET status = ?, error = ?, finished_at = NOW()
WHERE id = ? AND status = ?`
	if _, err := r.db.ExecContext(ctx, query, models.JobStatusFailed, message, id, models.JobStatusProcessing); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (r *JobRepository) ListByUser(ctx context.Context, userID int64, offset, limit int) ([]models.Job, error) {
	const query = `
SELECT id, user_id, prompt, COALESCE(negative_prompt, ''), model_choice, width, height, status, result, COALESCE(error, ''), created_at, started_at, finished_at
FROM jobs WHERE user_id = ?
ORDER BY created_at DESC
LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job list: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ListFailedWithoutRefund returns failed jobs finished before the cutoff that
// have a usage ledger entry but no matching refund. Input for the
// reconciliation sweep.
func (r *JobRepository) ListFailedWithoutRefund(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error) {
	const query = `
SELECT j.id, j.user_id, j.prompt, COALESCE(j.negative_prompt, ''), j.model_choice, j.width, j.height, j.status, j.result, COALESCE(j.error, ''), j.created_at, j.started_at, j.finished_at
FROM jobs j
WHERE j.status = ?
  AND j.finished_at IS NOT NULL AND j.finished_at < ?
  AND EXISTS (SELECT 1 FROM ledger_entries u WHERE u.job_id = j.id AND u.type = ?)
  AND NOT EXISTS (SELECT 1 FROM ledger_entries f WHERE f.job_id = j.id AND f.type = ?)
ORDER BY j.finished_at ASC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, models.JobStatusFailed, cutoff, models.EntryUsage, models.EntryRefund, limit)
	if err != nil {
		return nil, fmt.Errorf("list unrefunded jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unrefunded job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ResetStaleProcessing moves processing jobs whose worker is provably gone
// (started before the cutoff) back to pending so the boot requeue retries
// them. The only backward status transition in the system; it runs before
// any worker starts, so no live worker can own the rows it touches.
func (r *JobRepository) ResetStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
UPDATE jobs SET status = ?, started_at = NULL
WHERE status = ? AND started_at IS NOT NULL AND started_at < ?`
	res, err := r.db.ExecContext(ctx, query, models.JobStatusPending, models.JobStatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stale processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset rows affected: %w", err)
	}
	return affected, nil
}

// ListPendingIDs returns jobs admitted but never started, oldest first.
// Used at boot to requeue work that was queued in memory when the previous
// process exited.
func (r *JobRepository) ListPendingIDs(ctx context.Context, limit int) ([]string, error) {
	const query = `
SELECT id FROM jobs WHERE status = ?
ORDER BY created_at ASC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, models.JobStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		j         models.Job
		rawResult sql.NullString
		started   sql.NullTime
		finished  sql.NullTime
	)
	if err := row.Scan(&j.ID, &j.UserID, &j.Prompt, &j.NegativePrompt, &j.ModelChoice, &j.Width, &j.Height, &j.Status, &rawResult, &j.Error, &j.CreatedAt, &started, &finished); err != nil {
		return nil, err
	}
	if rawResult.Valid && rawResult.String != "" {
		var result models.JobResult
		if err := json.Unmarshal([]byte(rawResult.String), &result); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
		j.Result = &result
	}
	if started.Valid {
		j.StartedAt = &started.Time
	}
	if finished.Valid {
		j.FinishedAt = &finished.Time
	}
	return &j, nil
}
