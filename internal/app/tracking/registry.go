// Package tracking holds the in-memory registry of live tracking sessions.
package tracking

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrSessionExists is returned by Create when the job is already tracked.
	ErrSessionExists = errors.New("tracking session already exists")
	// ErrNoSession is returned by Update when the job is not tracked.
	ErrNoSession = errors.New("no tracking session")
)

// Session links an accepted job to its worker, customer and the worker's connection.
type Session struct {
	JobID        string    `json:"jobId"`
	WorkerID     string    `json:"workerId"`
	CustomerID   string    `json:"customerId"`
	ConnectionID string    `json:"connectionId"`
	StartedAt    time.Time `json:"startedAt"`
	LastUpdate   time.Time `json:"lastUpdate"`
	LastLat      *float64  `json:"lastLat,omitempty"`
	LastLng      *float64  `json:"lastLng,omitempty"`
	CustomerLat  *float64  `json:"customerLat,omitempty"`
	CustomerLng  *float64  `json:"customerLng,omitempty"`
}

// Registry is a mutex-guarded map keyed by job id. At most one session per job.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

// Create stores s under s.JobID.
func (r *Registry) Create(s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.JobID]; ok {
		return ErrSessionExists
	}
	r.sessions[s.JobID] = s
	return nil
}

// Get returns a copy of the session for jobID.
func (r *Registry) Get(jobID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[jobID]
	return s, ok
}

// Update applies mutate to the session under the lock. The job, worker and
// customer ids cannot be changed by mutate.
func (r *Registry) Update(jobID string, mutate func(*Session)) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[jobID]
	if !ok {
		return Session{}, ErrNoSession
	}

	next := s
	mutate(&next)
	next.JobID, next.WorkerID, next.CustomerID = s.JobID, s.WorkerID, s.CustomerID

	r.sessions[jobID] = next
	return next, nil
}

// Remove deletes and returns the session. A second call returns false.
func (r *Registry) Remove(jobID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[jobID]
	if ok {
		delete(r.sessions, jobID)
	}
	return s, ok
}

// ListActive returns a snapshot ordered by start time.
func (r *Registry) ListActive() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// FindByConnection returns the first session owned by connID.
func (r *Registry) FindByConnection(connID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		if s.ConnectionID == connID {
			return s, true
		}
	}
	return Session{}, false
}

// ListByConnection returns a snapshot of the sessions owned by connID.
func (r *Registry) ListByConnection(connID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var owned []Session
	for _, s := range r.sessions {
		if s.ConnectionID == connID {
			owned = append(owned, s)
		}
	}
	return owned
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
