// Package lifecycle drives a job from acceptance to completion and owns its
// tracking session.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fixit-services/dispatch/internal/app/tracking"
	"github.com/fixit-services/dispatch/internal/domain/jobs"
	"github.com/fixit-services/dispatch/internal/domain/workers"
	"github.com/fixit-services/dispatch/internal/ports"
	"github.com/fixit-services/dispatch/internal/shared/contracts"
	"github.com/fixit-services/dispatch/internal/shared/logger"
)

// Reasons carried by tracking_stopped and job_unavailable.
const (
	ReasonCompleted    = "job completed"
	ReasonDisconnected = "worker disconnected"
	ReasonCancelled    = "job cancelled"
	ReasonTaken        = "accepted by another worker"
	ReasonForceStopped = "stopped by operator"
)

// MaxChatLength caps a chat message, in characters.
const MaxChatLength = 1000

// AcceptResult is returned to the worker that won the job.
type AcceptResult struct {
	Job    contracts.JobView       `json:"job"`
	Worker contracts.WorkerProfile `json:"worker"`
}

// Coordinator applies worker commands to jobs. Commands for the same job run
// one at a time; different jobs proceed in parallel. Cross-instance acceptance
// races are settled by the store's conditional write.
type Coordinator struct {
	uow      ports.UnitOfWork
	jobs     ports.JobRepository
	workers  ports.WorkerRepository
	sessions *tracking.Registry
	emitter  ports.Emitter
	ledger   ports.OfferLedger
	logger   *logger.Logger
	locks    *keyedMutex
	now      func() time.Time
}

// NewCoordinator constructs a Coordinator. sessions is owned by the
// coordinator from here on; callers only read it through ActiveSessions.
func NewCoordinator(
	uow ports.UnitOfWork,
	jobRepo ports.JobRepository,
	workerRepo ports.WorkerRepository,
	sessions *tracking.Registry,
	emitter ports.Emitter,
	ledger ports.OfferLedger,
	logger *logger.Logger,
) *Coordinator {
	return &Coordinator{
		uow:      uow,
		jobs:     jobRepo,
		workers:  workerRepo,
		sessions: sessions,
		emitter:  emitter,
		ledger:   ledger,
		logger:   logger,
		locks:    newKeyedMutex(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Accept assigns jobID to workerID if the job is still pending and unassigned,
// then opens a tracking session bound to connID.
func (c *Coordinator) Accept(ctx context.Context, jobID, workerID, connID string) (AcceptResult, error) {
	if err := requireIDs(jobID, workerID); err != nil {
		return AcceptResult{}, err
	}
	defer c.locks.Lock(jobID)()

	var (
		job    *jobs.Job
		worker *workers.Worker
	)
	err := c.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		worker, err = c.workers.GetByID(txCtx, workerID)
		if err != nil {
			return notFoundOr(err, ErrWorkerNotFound, "load worker")
		}

		job, err = c.jobs.GetByID(txCtx, jobID)
		if err != nil {
			return notFoundOr(err, ErrJobNotFound, "load job")
		}
		if job.HasWorker() {
			return ErrAlreadyAccepted
		}
		if job.Status != jobs.StatusPending {
			return ErrNoLongerAvailable
		}

		applied, err := c.jobs.AssignWorkerCAS(txCtx, jobID, workerID)
		if err != nil {
			return fmt.Errorf("assign worker: %w", err)
		}
		if !applied {
			// lost the race; re-read to tell the caller why
			current, err := c.jobs.GetByID(txCtx, jobID)
			if err != nil {
				return notFoundOr(err, ErrJobNotFound, "reload job")
			}
			if current.HasWorker() {
				return ErrAlreadyAccepted
			}
			return ErrNoLongerAvailable
		}
		return nil
	})
	if err != nil {
		c.logCommandError(ctx, "accept_rejected", jobID, workerID, err)
		return AcceptResult{}, err
	}

	job.WorkerID = &workerID
	job.Status = jobs.StatusConfirmed
	now := c.now()

	if err := c.sessions.Create(tracking.Session{
		JobID:        jobID,
		WorkerID:     workerID,
		CustomerID:   job.CustomerID,
		ConnectionID: connID,
		StartedAt:    now,
		LastUpdate:   now,
	}); err != nil {
		c.logger.Error(ctx, "session_create_failed", "Tracking session already open for accepted job", err)
	}

	res := AcceptResult{Job: viewOf(job), Worker: profileOf(worker)}

	c.emit(ctx, contracts.UserRoom(job.CustomerID), contracts.EventJobAssigned, contracts.JobAssigned(res))
	c.emitStatus(ctx, job, "Worker "+worker.Name()+" accepted the job")
	c.releaseOthers(ctx, jobID, workerID, ReasonTaken)

	c.logger.Info(ctx, "job_accepted", "Worker accepted job", map[string]any{
		"job_id":    jobID,
		"worker_id": workerID,
		"conn_id":   connID,
	})

	return res, nil
}

// Decline records that workerID passed on jobID. The job stays open to every
// other offered worker.
func (c *Coordinator) Decline(ctx context.Context, jobID, workerID, reason string) error {
	if err := requireIDs(jobID, workerID); err != nil {
		return err
	}
	defer c.locks.Lock(jobID)()

	c.logger.Info(ctx, "job_declined", "Worker declined job", map[string]any{
		"job_id":    jobID,
		"worker_id": workerID,
		"reason":    reason,
	})
	return nil
}

// Start moves a confirmed job owned by workerID to in_progress.
func (c *Coordinator) Start(ctx context.Context, jobID, workerID string) (contracts.JobTransition, error) {
	return c.transition(ctx, jobID, workerID, jobs.StatusConfirmed, jobs.StatusInProgress, contracts.EventJobStarted)
}

// Complete moves an in-progress job owned by workerID to completed and ends
// its tracking session.
func (c *Coordinator) Complete(ctx context.Context, jobID, workerID string) (contracts.JobTransition, error) {
	return c.transition(ctx, jobID, workerID, jobs.StatusInProgress, jobs.StatusCompleted, contracts.EventJobCompleted)
}

func (c *Coordinator) transition(
	ctx context.Context,
	jobID, workerID string,
	from, to jobs.Status,
	event string,
) (contracts.JobTransition, error) {
	if err := requireIDs(jobID, workerID); err != nil {
		return contracts.JobTransition{}, err
	}
	defer c.locks.Lock(jobID)()

	var job *jobs.Job
	err := c.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		job, err = c.jobs.GetByID(txCtx, jobID)
		if err != nil {
			return notFoundOr(err, ErrJobNotFound, "load job")
		}
		if !job.AssignedTo(workerID) {
			return ErrNotAuthorized
		}
		if job.Status != from {
			return reject(KindInvalidState, "job is %s, expected %s", job.Status, from)
		}

		applied, err := c.jobs.UpdateStatusCAS(txCtx, jobID, workerID, from, to)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if !applied {
			return reject(KindInvalidState, "job changed while moving to %s", to)
		}
		return nil
	})
	if err != nil {
		c.logCommandError(ctx, event+"_rejected", jobID, workerID, err)
		return contracts.JobTransition{}, err
	}

	job.Status = to
	tr := contracts.JobTransition{JobID: jobID, WorkerID: workerID, Status: string(to), Timestamp: c.now()}

	c.emit(ctx, contracts.UserRoom(job.CustomerID), event, tr)
	c.emit(ctx, contracts.WorkerRoom(workerID), event, tr)
	c.emitStatus(ctx, job, "Job is now "+string(to))

	if to == jobs.StatusCompleted {
		if s, ok := c.sessions.Remove(jobID); ok {
			c.stopped(ctx, s, ReasonCompleted, true)
		}
	}

	c.logger.Info(ctx, "job_"+string(to), "Job status changed", map[string]any{
		"job_id":    jobID,
		"worker_id": workerID,
		"from":      from,
		"to":        to,
	})

	return tr, nil
}

// UpdateLocation stores the worker's position and relays it to the customer.
// Only the worker bound to the job's active session may do this.
func (c *Coordinator) UpdateLocation(ctx context.Context, jobID, workerID string, lat, lng float64) (contracts.WorkerLocationUpdate, error) {
	if err := requireIDs(jobID, workerID); err != nil {
		return contracts.WorkerLocationUpdate{}, err
	}
	if err := checkCoords(lat, lng); err != nil {
		return contracts.WorkerLocationUpdate{}, err
	}
	defer c.locks.Lock(jobID)()

	s, ok := c.sessions.Get(jobID)
	if !ok {
		return contracts.WorkerLocationUpdate{}, ErrNoSession
	}
	if s.WorkerID != workerID {
		c.logger.Warn(ctx, "location_unauthorized", "Location update from worker not bound to session", map[string]any{
			"job_id":    jobID,
			"worker_id": workerID,
		})
		return contracts.WorkerLocationUpdate{}, ErrNotAuthorized
	}

	at := c.now()
	err := c.uow.WithinTx(ctx, func(txCtx context.Context) error {
		return c.workers.UpsertLocation(txCtx, workerID, lat, lng, at)
	})
	if err != nil {
		c.logger.Error(ctx, "location_store_failed", "Failed to store worker location", err)
		return contracts.WorkerLocationUpdate{}, fmt.Errorf("store location: %w", err)
	}

	s, err = c.sessions.Update(jobID, func(s *tracking.Session) {
		s.LastUpdate = at
		s.LastLat, s.LastLng = &lat, &lng
	})
	if errors.Is(err, tracking.ErrNoSession) {
		return contracts.WorkerLocationUpdate{}, ErrNoSession
	}

	upd := contracts.WorkerLocationUpdate{JobID: jobID, WorkerID: workerID, Lat: lat, Lng: lng, Timestamp: at}
	c.emit(ctx, contracts.UserRoom(s.CustomerID), contracts.EventWorkerLocationUpdate, upd)

	return upd, nil
}

// ShareCustomerLocation relays the customer's position to the worker tracking
// jobID. Nothing is stored beyond the session.
func (c *Coordinator) ShareCustomerLocation(ctx context.Context, jobID, userID string, lat, lng float64) (contracts.LocationUpdate, error) {
	if err := requireFields("jobId", jobID, "userId", userID); err != nil {
		return contracts.LocationUpdate{}, err
	}
	if err := checkCoords(lat, lng); err != nil {
		return contracts.LocationUpdate{}, err
	}
	defer c.locks.Lock(jobID)()

	s, ok := c.sessions.Get(jobID)
	if !ok {
		return contracts.LocationUpdate{}, ErrNoSession
	}
	if s.CustomerID != userID {
		return contracts.LocationUpdate{}, reject(KindNotAuthorized, "user is not the customer for this job")
	}

	at := c.now()
	if _, err := c.sessions.Update(jobID, func(s *tracking.Session) {
		s.CustomerLat, s.CustomerLng = &lat, &lng
	}); err != nil {
		return contracts.LocationUpdate{}, ErrNoSession
	}

	upd := contracts.LocationUpdate{Type: "user", JobID: jobID, Lat: lat, Lng: lng, Timestamp: at}
	c.emit(ctx, contracts.WorkerRoom(s.WorkerID), contracts.EventLocationUpdate, upd)

	return upd, nil
}

// Chat relays message from sender to everyone in the job room. Only the
// customer and the assigned worker may talk, and only while the job is open.
func (c *Coordinator) Chat(ctx context.Context, jobID, sender, message string) (contracts.ChatMessage, error) {
	message = strings.TrimSpace(message)
	if err := requireFields("jobId", jobID, "sender", sender, "message", message); err != nil {
		return contracts.ChatMessage{}, err
	}
	if utf8.RuneCountInString(message) > MaxChatLength {
		return contracts.ChatMessage{}, reject(KindValidation, "message is longer than %d characters", MaxChatLength)
	}
	defer c.locks.Lock(jobID)()

	var job *jobs.Job
	err := c.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		job, err = c.jobs.GetByID(txCtx, jobID)
		if err != nil {
			return notFoundOr(err, ErrJobNotFound, "load job")
		}
		return nil
	})
	if err != nil {
		c.logCommandError(ctx, "chat_rejected", jobID, sender, err)
		return contracts.ChatMessage{}, err
	}

	var role string
	switch {
	case sender == job.CustomerID:
		role = "customer"
	case job.AssignedTo(sender):
		role = "worker"
	default:
		return contracts.ChatMessage{}, reject(KindNotAuthorized, "sender is not part of this job")
	}
	if job.Status != jobs.StatusConfirmed && job.Status != jobs.StatusInProgress {
		return contracts.ChatMessage{}, reject(KindInvalidState, "chat is closed while the job is %s", job.Status)
	}

	msg := contracts.ChatMessage{
		JobID:      jobID,
		Sender:     sender,
		SenderRole: role,
		Message:    message,
		Timestamp:  c.now(),
	}
	c.emit(ctx, contracts.JobRoom(jobID), contracts.EventChatMessage, msg)

	return msg, nil
}

// Disconnect ends every session owned by connID. Job status is untouched.
// Each session is released under its job lock, so a location update already
// in flight finishes before tracking stops.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) []tracking.Session {
	var removed []tracking.Session
	for _, owned := range c.sessions.ListByConnection(connID) {
		s, ok := c.release(owned.JobID, connID)
		if !ok {
			continue
		}
		removed = append(removed, s)

		c.stopped(ctx, s, ReasonDisconnected, false)
		c.logger.Info(ctx, "tracking_stopped", "Worker connection dropped; tracking stopped", map[string]any{
			"job_id":    s.JobID,
			"worker_id": s.WorkerID,
			"conn_id":   connID,
		})
	}
	return removed
}

// release removes jobID's session if connID still owns it.
func (c *Coordinator) release(jobID, connID string) (tracking.Session, bool) {
	defer c.locks.Lock(jobID)()

	s, ok := c.sessions.Get(jobID)
	if !ok || s.ConnectionID != connID {
		return tracking.Session{}, false
	}
	return c.sessions.Remove(jobID)
}

// ForceStop ends tracking for jobID without touching the job.
func (c *Coordinator) ForceStop(ctx context.Context, jobID, reason string) (tracking.Session, error) {
	if strings.TrimSpace(jobID) == "" {
		return tracking.Session{}, reject(KindValidation, "jobId is required")
	}
	if reason == "" {
		reason = ReasonForceStopped
	}
	defer c.locks.Lock(jobID)()

	s, ok := c.sessions.Remove(jobID)
	if !ok {
		return tracking.Session{}, ErrNoSession
	}
	c.stopped(ctx, s, reason, true)

	c.logger.Info(ctx, "tracking_force_stopped", "Tracking stopped by operator", map[string]any{
		"job_id": jobID,
		"reason": reason,
	})
	return s, nil
}

// Cancel moves a pending or confirmed job to cancelled, stops its tracking and
// tells everyone involved.
func (c *Coordinator) Cancel(ctx context.Context, jobID string) (*jobs.Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, reject(KindValidation, "jobId is required")
	}
	defer c.locks.Lock(jobID)()

	var job *jobs.Job
	err := c.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		job, err = c.jobs.GetByID(txCtx, jobID)
		if err != nil {
			return notFoundOr(err, ErrJobNotFound, "load job")
		}
		if !jobs.CanTransition(job.Status, jobs.StatusCancelled) {
			return reject(KindInvalidState, "job is %s and cannot be cancelled", job.Status)
		}

		applied, err := c.jobs.CancelCAS(txCtx, jobID)
		if err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		if !applied {
			return reject(KindInvalidState, "job changed while cancelling")
		}
		return nil
	})
	if err != nil {
		c.logCommandError(ctx, "cancel_rejected", jobID, "", err)
		return nil, err
	}

	job.Status = jobs.StatusCancelled

	if s, ok := c.sessions.Remove(jobID); ok {
		c.stopped(ctx, s, ReasonCancelled, true)
	}
	if job.WorkerID != nil {
		c.emit(ctx, contracts.WorkerRoom(*job.WorkerID), contracts.EventJobUnavailable,
			contracts.JobUnavailable{JobID: jobID, Reason: ReasonCancelled})
	} else {
		c.releaseOthers(ctx, jobID, "", ReasonCancelled)
	}
	c.emitStatus(ctx, job, "Job was cancelled")

	c.logger.Info(ctx, "job_cancelled", "Job cancelled", map[string]any{"job_id": jobID})
	return job, nil
}

// ActiveSessions returns a snapshot of every tracked job.
func (c *Coordinator) ActiveSessions() []tracking.Session {
	return c.sessions.ListActive()
}

// TrackingStatus returns the session for jobID, if tracked.
func (c *Coordinator) TrackingStatus(jobID string) (tracking.Session, bool) {
	return c.sessions.Get(jobID)
}

// releaseOthers tells every offered worker except keep that the job is gone.
func (c *Coordinator) releaseOthers(ctx context.Context, jobID, keep, reason string) {
	offered, err := c.ledger.Offered(ctx, jobID)
	if err != nil {
		c.logger.Error(ctx, "offer_ledger_failed", "Failed to load offered workers", err)
		return
	}

	notice := contracts.JobUnavailable{JobID: jobID, Reason: reason}
	for _, id := range offered {
		if id == keep {
			continue
		}
		c.emit(ctx, contracts.WorkerRoom(id), contracts.EventJobUnavailable, notice)
	}

	if err := c.ledger.Clear(ctx, jobID); err != nil {
		c.logger.Error(ctx, "offer_ledger_failed", "Failed to clear offered workers", err)
	}
}

// stopped notifies the customer, and the worker when toWorker is set, that
// tracking for s has ended.
func (c *Coordinator) stopped(ctx context.Context, s tracking.Session, reason string, toWorker bool) {
	msg := contracts.TrackingStopped{JobID: s.JobID, Reason: reason}
	c.emit(ctx, contracts.UserRoom(s.CustomerID), contracts.EventTrackingStopped, msg)
	if toWorker {
		c.emit(ctx, contracts.WorkerRoom(s.WorkerID), contracts.EventTrackingStopped, msg)
	}
}

func (c *Coordinator) emitStatus(ctx context.Context, job *jobs.Job, message string) {
	c.emit(ctx, contracts.JobRoom(job.ID), contracts.EventJobStatus, contracts.JobStatusNotice{
		Type:    "info",
		JobID:   job.ID,
		Status:  string(job.Status),
		Message: message,
	})
}

// emit delivers best-effort; state is already committed when it runs.
func (c *Coordinator) emit(ctx context.Context, room, event string, payload any) {
	if err := c.emitter.Emit(ctx, room, event, payload); err != nil {
		c.logger.Error(ctx, "emit_failed", "Failed to deliver "+event+" to "+room, err)
	}
}

func (c *Coordinator) logCommandError(ctx context.Context, action, jobID, workerID string, err error) {
	if r, ok := AsRejection(err); ok {
		c.logger.Debug(ctx, action, r.Reason, map[string]any{
			"job_id":    jobID,
			"worker_id": workerID,
			"kind":      r.Kind,
		})
		return
	}
	c.logger.Error(ctx, action, "Store failure while handling command for job "+jobID, err)
}

func requireIDs(jobID, workerID string) error {
	return requireFields("jobId", jobID, "workerId", workerID)
}

// requireFields takes name, value pairs and rejects the blank ones.
func requireFields(pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, pairs[i])
		}
	}
	if len(missing) > 0 {
		return reject(KindValidation, "%s required", strings.Join(missing, " and "))
	}
	return nil
}

func checkCoords(lat, lng float64) error {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return reject(KindValidation, "coordinates out of range")
	}
	return nil
}

func notFoundOr(err error, notFound *Rejection, what string) error {
	if errors.Is(err, ports.ErrNotFound) {
		return notFound
	}
	return fmt.Errorf("%s: %w", what, err)
}

func viewOf(j *jobs.Job) contracts.JobView {
	v := contracts.JobView{
		ID:          j.ID,
		CustomerID:  j.CustomerID,
		Description: j.Description,
		Address:     j.Address,
		Lat:         j.Lat,
		Lng:         j.Lng,
		Status:      string(j.Status),
	}
	if j.WorkerID != nil {
		v.WorkerID = *j.WorkerID
	}
	return v
}

func profileOf(w *workers.Worker) contracts.WorkerProfile {
	return contracts.WorkerProfile{
		ID:              w.ID,
		Name:            w.Name(),
		Phone:           w.Phone,
		ExperienceYears: w.ExperienceYears,
	}
}
