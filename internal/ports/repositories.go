package ports

import (
	"context"
	"errors"
	"time"

	"github.com/fixit-services/dispatch/internal/domain/jobs"
	"github.com/fixit-services/dispatch/internal/domain/workers"
)

// ErrNotFound is returned by repositories when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// UnitOfWork wraps a function in a DB transaction.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// JobRepository reads jobs and applies conditional status writes. Every write is a
// single compare-and-swap statement; applied=false means the guard did not hold.
type JobRepository interface {
	GetByID(ctx context.Context, id string) (*jobs.Job, error)
	// AssignWorkerCAS sets worker_id and status=confirmed only while the job is
	// pending with no worker.
	AssignWorkerCAS(ctx context.Context, jobID, workerID string) (applied bool, err error)
	// UpdateStatusCAS moves expected->next only when the job belongs to workerID.
	UpdateStatusCAS(ctx context.Context, jobID, workerID string, expected, next jobs.Status) (applied bool, err error)
	// CancelCAS moves a pending or confirmed job to cancelled.
	CancelCAS(ctx context.Context, jobID string) (applied bool, err error)
}

// LiveFilter narrows the live-worker scan. A zero box means unbounded.
type LiveFilter struct {
	Category string
	Box      *BoundingBox
}

// BoundingBox is a coarse lat/lng window used as an index-friendly pre-filter.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// WorkerRepository reads workers and owns the one-per-worker live location row.
type WorkerRepository interface {
	GetByID(ctx context.Context, id string) (*workers.Worker, error)
	ListLive(ctx context.Context, filter LiveFilter) ([]workers.LiveWorker, error)
	UpsertLocation(ctx context.Context, workerID string, lat, lng float64, at time.Time) error
}
