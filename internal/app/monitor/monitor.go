// Package monitor keeps process-wide dispatch counters. Nothing correctness
// critical reads them.
package monitor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/fixit-services/dispatch/internal/shared/logger"
	"github.com/robfig/cron/v3"
)

// LastJob describes the most recently processed dispatch.
type LastJob struct {
	JobID           string    `json:"jobId"`
	Timestamp       time.Time `json:"timestamp"`
	WorkersFound    int       `json:"workersFound"`
	WorkersNotified int       `json:"workersNotified"`
}

// Snapshot is an immutable copy of the counters.
type Snapshot struct {
	JobsCreated          int64    `json:"totalJobsCreated"`
	JobsBroadcast        int64    `json:"totalJobsBroadcasted"`
	WorkersNotified      int64    `json:"totalWorkersNotified"`
	SuccessfulBroadcasts int64    `json:"successfulBroadcasts"`
	FailedBroadcasts     int64    `json:"failedBroadcasts"`
	NoCandidates         int64    `json:"noCandidates"`
	FailedNotifications  int64    `json:"failedNotifications"`
	AverageWorkersPerJob float64  `json:"averageWorkersPerJob"`
	SuccessRate          float64  `json:"successRate"`
	FailureRate          float64  `json:"failureRate"`
	LastJob              *LastJob `json:"lastJobProcessed,omitempty"`

	StartedAt time.Time     `json:"startedAt"`
	Uptime    time.Duration `json:"-"`
	UptimeStr string        `json:"uptime"`
}

// Monitor is safe for concurrent use.
type Monitor struct {
	mu  sync.Mutex
	now func() time.Time

	startedAt            time.Time
	jobsCreated          int64
	jobsBroadcast        int64
	workersNotified      int64
	successfulBroadcasts int64
	failedBroadcasts     int64
	noCandidates         int64
	failedNotifications  int64
	lastJob              *LastJob
}

// New creates a Monitor whose uptime starts now.
func New() *Monitor {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *Monitor {
	return &Monitor{now: now, startedAt: now()}
}

// TrackJobCreation counts a job handed to dispatch.
func (m *Monitor) TrackJobCreation() {
	m.mu.Lock()
	m.jobsCreated++
	m.mu.Unlock()
}

// RecordBroadcast counts a fan-out to found candidates of which notified were
// reached and failed were not. A fan-out that reached nobody is a failed broadcast.
func (m *Monitor) RecordBroadcast(jobID string, found, notified, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobsBroadcast++
	m.workersNotified += int64(notified)
	m.failedNotifications += int64(failed)
	if notified > 0 {
		m.successfulBroadcasts++
	} else {
		m.failedBroadcasts++
	}
	m.lastJob = &LastJob{JobID: jobID, Timestamp: m.now(), WorkersFound: found, WorkersNotified: notified}
}

// RecordNoCandidates counts a dispatch that found nobody within the largest radius.
func (m *Monitor) RecordNoCandidates(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.noCandidates++
	m.lastJob = &LastJob{JobID: jobID, Timestamp: m.now()}
}

// RecordFailure counts a dispatch aborted by an error before fan-out.
func (m *Monitor) RecordFailure(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failedBroadcasts++
	m.lastJob = &LastJob{JobID: jobID, Timestamp: m.now()}
}

// Snapshot returns a copy of the current counters.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	uptime := m.now().Sub(m.startedAt)
	s := Snapshot{
		JobsCreated:          m.jobsCreated,
		JobsBroadcast:        m.jobsBroadcast,
		WorkersNotified:      m.workersNotified,
		SuccessfulBroadcasts: m.successfulBroadcasts,
		FailedBroadcasts:     m.failedBroadcasts,
		NoCandidates:         m.noCandidates,
		FailedNotifications:  m.failedNotifications,
		StartedAt:            m.startedAt,
		Uptime:               uptime,
		UptimeStr:            formatUptime(uptime),
	}
	if m.jobsBroadcast > 0 {
		s.AverageWorkersPerJob = round2(float64(m.workersNotified) / float64(m.jobsBroadcast))
	}
	if m.jobsCreated > 0 {
		s.SuccessRate = round2(float64(m.successfulBroadcasts) / float64(m.jobsCreated) * 100)
		s.FailureRate = round2(float64(m.failedBroadcasts) / float64(m.jobsCreated) * 100)
	}
	if m.lastJob != nil {
		lj := *m.lastJob
		s.LastJob = &lj
	}

	return s
}

// Reset zeroes every counter and restarts the uptime clock.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobsCreated = 0
	m.jobsBroadcast = 0
	m.workersNotified = 0
	m.successfulBroadcasts = 0
	m.failedBroadcasts = 0
	m.noCandidates = 0
	m.failedNotifications = 0
	m.lastJob = nil
	m.startedAt = m.now()
}

// StartStatusLog logs a snapshot on schedule (cron spec such as "@every 5m")
// until ctx is done. An empty schedule disables it.
func (m *Monitor) StartStatusLog(ctx context.Context, schedule string, log *logger.Logger) error {
	if schedule == "" {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		s := m.Snapshot()
		log.Info(ctx, "dispatch_status", "Dispatch monitor status", map[string]any{
			"jobs_created":            s.JobsCreated,
			"jobs_broadcast":          s.JobsBroadcast,
			"workers_notified":        s.WorkersNotified,
			"average_workers_per_job": s.AverageWorkersPerJob,
			"success_rate":            s.SuccessRate,
			"failure_rate":            s.FailureRate,
			"no_candidates":           s.NoCandidates,
			"uptime":                  s.UptimeStr,
		})
	})
	if err != nil {
		return fmt.Errorf("metrics log schedule %q: %w", schedule, err)
	}

	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()

	return nil
}

// formatUptime renders a duration as "Xh Ym Zs".
func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
