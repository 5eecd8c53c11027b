package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/fixit-services/dispatch/internal/domain/jobs"
	"github.com/fixit-services/dispatch/internal/ports"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobsRepo implements ports.JobRepository with GORM.
type JobsRepo struct {
	db *gorm.DB
}

func NewJobsRepo(db *gorm.DB) *JobsRepo {
	return &JobsRepo{db: db}
}

// Create inserts a job. Jobs normally come from the CRUD side; this exists for
// local seeding.
func (r *JobsRepo) Create(ctx context.Context, job *jobs.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = jobs.StatusPending
	}

	m := JobModel{
		ID:              job.ID,
		UserID:          job.CustomerID,
		WorkerID:        job.WorkerID,
		Description:     job.Description,
		Address:         job.Address,
		Lat:             job.Lat,
		Lng:             job.Lng,
		Status:          string(job.Status),
		BookedFor:       job.BookedFor,
		DurationMinutes: job.DurationMinutes,
	}
	if err := conn(ctx, r.db).Create(&m).Error; err != nil {
		return err
	}
	job.CreatedAt = m.CreatedAt
	return nil
}

func (r *JobsRepo) GetByID(ctx context.Context, id string) (*jobs.Job, error) {
	var m JobModel
	err := conn(ctx, r.db).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &jobs.Job{
		ID:              m.ID,
		CustomerID:      m.UserID,
		WorkerID:        m.WorkerID,
		Description:     m.Description,
		Address:         m.Address,
		Lat:             m.Lat,
		Lng:             m.Lng,
		Status:          jobs.Status(m.Status),
		BookedFor:       m.BookedFor,
		DurationMinutes: m.DurationMinutes,
		CreatedAt:       m.CreatedAt,
	}, nil
}

func (r *JobsRepo) AssignWorkerCAS(ctx context.Context, jobID, workerID string) (bool, error) {
	result := conn(ctx, r.db).
		Model(&JobModel{}).
		Where("id = ? AND status = ? AND worker_id IS NULL", jobID, jobs.StatusPending).
		Updates(map[string]any{
			"worker_id":  workerID,
			"status":     string(jobs.StatusConfirmed),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *JobsRepo) UpdateStatusCAS(ctx context.Context, jobID, workerID string, expected, next jobs.Status) (bool, error) {
	result := conn(ctx, r.db).
		Model(&JobModel{}).
		Where("id = ? AND worker_id = ? AND status = ?", jobID, workerID, string(expected)).
		Updates(map[string]any{
			"status":     string(next),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *JobsRepo) CancelCAS(ctx context.Context, jobID string) (bool, error) {
	result := conn(ctx, r.db).
		Model(&JobModel{}).
		Where("id = ? AND status IN ?", jobID, []string{string(jobs.StatusPending), string(jobs.StatusConfirmed)}).
		Updates(map[string]any{
			"status":     string(jobs.StatusCancelled),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
