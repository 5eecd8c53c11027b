package workers

import (
	"strings"
	"time"
)

// Worker is a service provider who can be offered jobs.
type Worker struct {
	ID              string
	FirstName       string
	LastName        string
	Phone           string
	ExperienceYears int
	Specializations []Specialization
}

// Name returns the display name.
func (w Worker) Name() string {
	return strings.TrimSpace(w.FirstName + " " + w.LastName)
}

// Specialization is one service line a worker offers.
type Specialization struct {
	Category    string
	SubCategory string
}

// LiveLocation is the most recent known position of a worker. One per worker.
type LiveLocation struct {
	WorkerID  string
	Lat       float64
	Lng       float64
	UpdatedAt time.Time
}

// LiveWorker is a worker joined with its live location.
type LiveWorker struct {
	Worker
	Location LiveLocation
}

// Candidate is a worker found near a job's origin during one dispatch cycle.
type Candidate struct {
	WorkerID        string
	Name            string
	Phone           string
	ExperienceYears int
	DistanceKm      float64
}

// MatchesCategory reports whether any specialization loosely matches filter.
// Empty filter matches everyone.
func (w Worker) MatchesCategory(filter string) bool {
	filter = strings.ToLower(strings.TrimSpace(filter))
	if filter == "" {
		return true
	}

	for _, s := range w.Specializations {
		if strings.Contains(strings.ToLower(s.Category), filter) ||
			strings.Contains(strings.ToLower(s.SubCategory), filter) {
			return true
		}
	}

	return false
}
