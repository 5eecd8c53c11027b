package postgres

import (
	"context"
	"errors"

	"github.com/fixit-services/dispatch/internal/domain/jobs"
	"github.com/fixit-services/dispatch/internal/ports"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// JobsRepo implements job reads and conditional status writes using pgx and SQL.
type JobsRepo struct{}

// NewJobsRepo constructs a new JobsRepo.
func NewJobsRepo() *JobsRepo {
	return &JobsRepo{}
}

// GetByID loads a job by id. Malformed ids are reported as not found.
func (r *JobsRepo) GetByID(ctx context.Context, id string) (*jobs.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ports.ErrNotFound
	}

	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var (
		job    jobs.Job
		status string
	)
	err = tx.QueryRow(ctx, `
		SELECT id::text, user_id::text, worker_id::text, COALESCE(description, ''), COALESCE(address, ''),
		       lat, lng, status, booked_for, COALESCE(duration_minutes, 0), created_at
		FROM jobs
		WHERE id = $1
	`, id).Scan(
		&job.ID, &job.CustomerID, &job.WorkerID, &job.Description, &job.Address,
		&job.Lat, &job.Lng, &status, &job.BookedFor, &job.DurationMinutes, &job.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Status = jobs.Status(status)

	return &job, nil
}

// AssignWorkerCAS claims a pending, unassigned job for workerID in one statement.
func (r *JobsRepo) AssignWorkerCAS(ctx context.Context, jobID, workerID string) (bool, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return false, nil
	}

	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return false, err
	}

	return scanApplied(tx.QueryRow(ctx, `
		UPDATE jobs
		SET worker_id = $2, status = 'confirmed', updated_at = now()
		WHERE id = $1 AND status = 'pending' AND worker_id IS NULL
		RETURNING true
	`, jobID, workerID))
}

// UpdateStatusCAS updates the job status using a compare-and-swap approach.
func (r *JobsRepo) UpdateStatusCAS(ctx context.Context, jobID, workerID string, expected, next jobs.Status) (bool, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return false, nil
	}

	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return false, err
	}

	return scanApplied(tx.QueryRow(ctx, `
		UPDATE jobs
		SET status = $4, updated_at = now()
		WHERE id = $1 AND worker_id::text = $2 AND status = $3
		RETURNING true
	`, jobID, workerID, string(expected), string(next)))
}

// CancelCAS cancels a job that has not started yet.
func (r *JobsRepo) CancelCAS(ctx context.Context, jobID string) (bool, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return false, nil
	}

	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return false, err
	}

	return scanApplied(tx.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'confirmed')
		RETURNING true
	`, jobID))
}

// scanApplied maps "no row returned" to a lost race rather than an error.
func scanApplied(row pgx.Row) (bool, error) {
	var applied bool
	err := row.Scan(&applied)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return applied, nil
}
