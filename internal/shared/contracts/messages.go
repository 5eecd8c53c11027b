package contracts

import "time"

// JobCreatedMessage is published to "jobs_topic" with routing key "job.created"
// after the job row is committed.
type JobCreatedMessage struct {
	JobID           string     `json:"job_id"`
	CustomerID      string     `json:"customer_id"`
	Description     string     `json:"description"`
	Address         string     `json:"address"`
	Lat             float64    `json:"lat"`
	Lng             float64    `json:"lng"`
	BookedFor       *time.Time `json:"booked_for,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}
