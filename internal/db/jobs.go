package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bobarin/slnpart/internal/models"
	"github.com/google/uuid"
)

const jobColumns = `
	id, kind, owner_account_id, params, status, result_ref, provider,
	error_message, created_at, finished_at
`

// CreateJob inserts a new job. CreatedAt is set here.
func (db *DB) CreateJob(ctx context.Context, job *models.Job) error {
	job.CreatedAt = now()
	query := `
		INSERT INTO jobs (
			id, kind, owner_account_id, params, status, result_ref, provider, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := db.ExecContext(
		ctx, query,
		job.ID, job.Kind, job.OwnerAccountID, job.Params, job.Status,
		job.ResultRef, job.Provider, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListRecentJobs returns the newest jobs first. kind and owner are optional filters.
func (db *DB) ListRecentJobs(ctx context.Context, kind models.JobKind, owner *uuid.UUID, limit int) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE ($1 = '' OR kind = $1)
		  AND ($2 = '' OR owner_account_id = $2)
		ORDER BY created_at DESC
		LIMIT $3`

	ownerFilter := ""
	if owner != nil {
		ownerFilter = owner.String()
	}

	rows, err := db.QueryContext(ctx, query, string(kind), ownerFilter, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}

	return jobs, nil
}

// StartJob moves an uploaded job to processing, merging extra params.
func (db *DB) StartJob(ctx context.Context, id uuid.UUID, params models.JSONB) error {
	query := `UPDATE jobs SET status = $1, params = $2 WHERE id = $3 AND status = $4`
	result, err := db.ExecContext(ctx, query, models.JobStatusProcessing, params, id, models.JobStatusUploaded)
	return db.transitionResult(ctx, id, result, err)
}

// SetJobHandle stores a provider handle on a processing job.
func (db *DB) SetJobHandle(ctx context.Context, id uuid.UUID, provider, handle string) error {
	query := `UPDATE jobs SET provider = $1, result_ref = $2 WHERE id = $3 AND status = $4`
	result, err := db.ExecContext(ctx, query, provider, handle, id, models.JobStatusProcessing)
	return db.transitionResult(ctx, id, result, err)
}

// CompleteJob promotes a processing job to completed with its artifact reference.
func (db *DB) CompleteJob(ctx context.Context, id uuid.UUID, provider, ref string) error {
	query := `
		UPDATE jobs
		SET status = $1, provider = $2, result_ref = $3, finished_at = $4
		WHERE id = $5 AND status = $6
	`
	result, err := db.ExecContext(ctx, query,
		models.JobStatusCompleted, provider, ref, now(), id, models.JobStatusProcessing,
	)
	return db.transitionResult(ctx, id, result, err)
}

// FailJob marks a processing job as failed.
func (db *DB) FailJob(ctx context.Context, id uuid.UUID, provider, reason string) error {
	query := `
		UPDATE jobs
		SET status = $1, provider = $2, error_message = $3, finished_at = $4
		WHERE id = $5 AND status = $6
	`
	result, err := db.ExecContext(ctx, query,
		models.JobStatusFailed, provider, reason, now(), id, models.JobStatusProcessing,
	)
	return db.transitionResult(ctx, id, result, err)
}

// transitionResult turns a conditional update into ErrNotFound or
// ErrInvalidTransition when no row matched.
func (db *DB) transitionResult(ctx context.Context, id uuid.UUID, result sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	job, err := db.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("job is %s: %w", job.Status, models.ErrInvalidTransition)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	job := &models.Job{}
	var errorMessage sql.NullString
	var finishedAt sql.NullTime
	err := row.Scan(
		&job.ID, &job.Kind, &job.OwnerAccountID, &job.Params, &job.Status,
		&job.ResultRef, &job.Provider, &errorMessage, &job.CreatedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	if errorMessage.Valid {
		job.ErrorMessage = &errorMessage.String
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	return job, nil
}
