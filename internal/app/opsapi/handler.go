// Package opsapi is the operator HTTP surface: tracking sessions, job
// cancellation and re-dispatch, dispatch metrics and health.
package opsapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fixit-services/dispatch/internal/app/lifecycle"
	"github.com/fixit-services/dispatch/internal/app/monitor"
	"github.com/fixit-services/dispatch/internal/app/tracking"
	"github.com/fixit-services/dispatch/internal/domain/jobs"
	"github.com/fixit-services/dispatch/internal/ports"
	"github.com/fixit-services/dispatch/internal/shared/contracts"
	"github.com/fixit-services/dispatch/internal/shared/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Operations is the coordinator surface exposed to operators.
type Operations interface {
	ActiveSessions() []tracking.Session
	TrackingStatus(jobID string) (tracking.Session, bool)
	ForceStop(ctx context.Context, jobID, reason string) (tracking.Session, error)
	Cancel(ctx context.Context, jobID string) (*jobs.Job, error)
}

// Nearby search defaults and caps for GET /workers/nearby.
const (
	defaultNearbyRadiusKm = 10
	maxNearbyRadiusKm     = 100
	defaultNearbyLimit    = 20
	maxNearbyLimit        = 100
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handler serves the operator endpoints. Deps left nil disable their routes,
// which is how the dispatcher exposes only health and metrics.
type Handler struct {
	logger    *logger.Logger
	monitor   *monitor.Monitor
	ops       Operations
	uow       ports.UnitOfWork
	jobs      ports.JobRepository
	publisher ports.JobPublisher
	matcher   ports.Matcher
	checks    map[string]HealthCheck
}

// Deps groups the optional collaborators of Handler.
type Deps struct {
	Operations Operations
	UnitOfWork ports.UnitOfWork
	Jobs       ports.JobRepository
	Publisher  ports.JobPublisher
	Matcher    ports.Matcher
	Checks     map[string]HealthCheck
}

func NewHandler(logger *logger.Logger, mon *monitor.Monitor, deps Deps) *Handler {
	return &Handler{
		logger:    logger,
		monitor:   mon,
		ops:       deps.Operations,
		uow:       deps.UnitOfWork,
		jobs:      deps.Jobs,
		publisher: deps.Publisher,
		matcher:   deps.Matcher,
		checks:    deps.Checks,
	}
}

// NewRouter builds the chi router. ws, when set, is mounted at /ws.
func NewRouter(h *Handler, ws http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	h.Register(r)
	if ws != nil {
		r.Method(http.MethodGet, "/ws", ws)
	}
	return r
}

// Register mounts the routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.health)
	r.Get("/metrics/dispatch", h.metrics)
	r.Post("/metrics/dispatch/reset", h.resetMetrics)

	if h.ops != nil {
		r.Get("/tracking/sessions", h.listSessions)
		r.Get("/tracking/sessions/{jobID}", h.getSession)
		r.Delete("/tracking/sessions/{jobID}", h.stopSession)
		r.Post("/jobs/{jobID}/cancel", h.cancelJob)
	}
	if h.jobs != nil && h.uow != nil && h.publisher != nil {
		r.Post("/jobs/{jobID}/dispatch", h.redispatch)
	}
	if h.matcher != nil {
		r.Get("/workers/nearby", h.nearbyWorkers)
	}
}

// --- Handlers ---

// health handles GET /health and runs every registered dependency check.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			results[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	h.writeJSON(w, code, map[string]any{"status": status, "checks": results})
}

func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.monitor.Snapshot())
}

func (h *Handler) resetMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := h.withReqID(r.Context(), r)
	h.monitor.Reset()
	h.logger.Info(ctx, "metrics_reset", "Dispatch metrics reset by operator", nil)
	h.writeJSON(w, http.StatusOK, h.monitor.Snapshot())
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.ops.ActiveSessions()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// getSession handles GET /tracking/sessions/{jobID}.
func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.ops.TrackingStatus(chi.URLParam(r, "jobID"))
	if !ok {
		h.writeErr(w, http.StatusNotFound, "job is not being tracked")
		return
	}
	h.writeJSON(w, http.StatusOK, s)
}

// stopSession handles DELETE /tracking/sessions/{jobID}?reason=...
func (h *Handler) stopSession(w http.ResponseWriter, r *http.Request) {
	ctx := h.withReqID(r.Context(), r)
	jobID := chi.URLParam(r, "jobID")

	s, err := h.ops.ForceStop(ctx, jobID, r.URL.Query().Get("reason"))
	if err != nil {
		h.writeCommandErr(ctx, w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"stopped": true, "session": s})
}

func (h *Handler) cancelJob(w http.ResponseWriter, r *http.Request) {
	ctx := h.withReqID(r.Context(), r)
	jobID := chi.URLParam(r, "jobID")

	job, err := h.ops.Cancel(ctx, jobID)
	if err != nil {
		h.writeCommandErr(ctx, w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"jobId": job.ID, "status": job.Status})
}

// redispatch handles POST /jobs/{jobID}/dispatch by putting a pending job back
// on the dispatch queue.
func (h *Handler) redispatch(w http.ResponseWriter, r *http.Request) {
	ctx := h.withReqID(r.Context(), r)
	jobID := chi.URLParam(r, "jobID")

	var job *jobs.Job
	err := h.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		job, err = h.jobs.GetByID(txCtx, jobID)
		return err
	})
	if errors.Is(err, ports.ErrNotFound) {
		h.writeErr(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.logger.Error(ctx, "db_query_failed", "Failed to load job for re-dispatch", err)
		h.writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if job.Status != jobs.StatusPending || job.HasWorker() {
		h.writeErr(w, http.StatusConflict, "only pending jobs can be dispatched")
		return
	}

	msg := contracts.JobCreatedMessage{
		JobID:           job.ID,
		CustomerID:      job.CustomerID,
		Description:     job.Description,
		Address:         job.Address,
		Lat:             job.Lat,
		Lng:             job.Lng,
		BookedFor:       job.BookedFor,
		DurationMinutes: job.DurationMinutes,
		CreatedAt:       job.CreatedAt,
	}
	if err := h.publisher.PublishJobCreated(ctx, msg); err != nil {
		h.logger.Error(ctx, "rabbitmq_publish_failed", "Failed to queue job for dispatch", err)
		h.writeErr(w, http.StatusServiceUnavailable, "dispatch queue unavailable")
		return
	}

	h.logger.Info(ctx, "job_redispatched", "Job queued for dispatch by operator", map[string]any{"job_id": job.ID})
	h.writeJSON(w, http.StatusAccepted, map[string]any{"jobId": job.ID, "status": "queued"})
}

type nearbyWorker struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Phone           string  `json:"phone"`
	ExperienceYears int     `json:"experienceYears"`
	DistanceKm      float64 `json:"distanceKm"`
}

// nearbyWorkers handles GET /workers/nearby?lat=&lng=&radius=&category=&limit=
// and lists live workers closest first.
func (h *Handler) nearbyWorkers(w http.ResponseWriter, r *http.Request) {
	ctx := h.withReqID(r.Context(), r)
	q := r.URL.Query()

	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lng, lngErr := strconv.ParseFloat(q.Get("lng"), 64)
	if latErr != nil || lngErr != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		h.writeErr(w, http.StatusBadRequest, "lat and lng are required and must be valid coordinates")
		return
	}

	radius := float64(defaultNearbyRadiusKm)
	if v := q.Get("radius"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 || parsed > maxNearbyRadiusKm {
			h.writeErr(w, http.StatusBadRequest, "radius must be between 0 and 100 km")
			return
		}
		radius = parsed
	}

	limit := defaultNearbyLimit
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			h.writeErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxNearbyLimit)
	}

	category := strings.TrimSpace(q.Get("category"))

	found, err := h.matcher.FindNearby(ctx, lat, lng, radius, category)
	if err != nil {
		h.logger.Error(ctx, "db_query_failed", "Failed to search nearby workers", err)
		h.writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].DistanceKm < found[j].DistanceKm })
	if len(found) > limit {
		found = found[:limit]
	}

	out := make([]nearbyWorker, 0, len(found))
	for _, c := range found {
		out = append(out, nearbyWorker{
			ID:              c.WorkerID,
			Name:            c.Name,
			Phone:           c.Phone,
			ExperienceYears: c.ExperienceYears,
			DistanceKm:      c.DistanceKm,
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"workers": out,
		"total":   len(out),
		"searchParams": map[string]any{
			"lat":      lat,
			"lng":      lng,
			"radiusKm": radius,
			"category": category,
			"limit":    limit,
		},
	})
}

// --- Helpers ---

// writeCommandErr maps a coordinator rejection to an HTTP status; anything
// else is a 500 with the detail kept in the log.
func (h *Handler) writeCommandErr(ctx context.Context, w http.ResponseWriter, err error) {
	rej, ok := lifecycle.AsRejection(err)
	if !ok {
		h.logger.Error(ctx, "command_failed", "Operator command failed", err)
		h.writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}

	code := http.StatusConflict
	switch rej.Kind {
	case lifecycle.KindValidation:
		code = http.StatusBadRequest
	case lifecycle.KindNotFound, lifecycle.KindNoSession:
		code = http.StatusNotFound
	}
	h.writeJSON(w, code, map[string]any{"error": rej.Reason, "code": rej.Kind})
}

// writeJSON writes the provided value as a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr writes a JSON error response with a message.
func (h *Handler) writeErr(w http.ResponseWriter, code int, msg string) {
	h.writeJSON(w, code, map[string]any{"error": msg})
}

// withReqID takes the request id from X-Request-ID, then chi's middleware, then
// generates one.
func (h *Handler) withReqID(ctx context.Context, r *http.Request) context.Context {
	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = middleware.GetReqID(ctx)
	}
	if reqID == "" {
		reqID = randID()
	}
	return h.logger.WithRequestID(ctx, reqID)
}

// randID generates a random 24-char hex string suitable for request IDs.
func randID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
