package jobs

import "time"

// Job is a customer's request for a home service. Status and WorkerID are only
// mutated by the lifecycle coordinator once dispatch begins.
type Job struct {
	ID              string
	CustomerID      string
	WorkerID        *string
	Description     string
	Category        string
	Address         string
	Lat             float64
	Lng             float64
	Status          Status
	BookedFor       *time.Time
	DurationMinutes int
	CreatedAt       time.Time
}

// HasWorker reports whether a worker has been assigned.
func (j *Job) HasWorker() bool {
	return j.WorkerID != nil && *j.WorkerID != ""
}

// AssignedTo reports whether the job is assigned to the given worker.
func (j *Job) AssignedTo(workerID string) bool {
	return j.HasWorker() && *j.WorkerID == workerID
}
