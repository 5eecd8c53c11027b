// Package broadcast turns a newly created job into job offers for the nearest
// suitable workers.
package broadcast

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/fixit-services/dispatch/internal/app/classifier"
	"github.com/fixit-services/dispatch/internal/app/monitor"
	"github.com/fixit-services/dispatch/internal/domain/jobs"
	"github.com/fixit-services/dispatch/internal/domain/workers"
	"github.com/fixit-services/dispatch/internal/ports"
	"github.com/fixit-services/dispatch/internal/shared/contracts"
	"github.com/fixit-services/dispatch/internal/shared/logger"
	"golang.org/x/sync/errgroup"
)

// NoWorkersMessage is sent to the customer when every radius came back empty.
const NoWorkersMessage = "Sorry, no workers found near your location."

// tieBreakKm is the width of the distance bands inside which experience decides the order.
const tieBreakKm = 1.0

// Options tunes the search.
type Options struct {
	RadiiKm     []float64 // strictly ascending
	TopN        int
	Concurrency int
}

// DefaultOptions returns the built-in radius ladder and fan-out cap.
func DefaultOptions() Options {
	return Options{RadiiKm: []float64{5, 10, 15, 20}, TopN: 10, Concurrency: 16}
}

// Outcome summarizes one dispatch.
type Outcome struct {
	JobID        string  `json:"jobId"`
	Category     string  `json:"category"`
	RadiusKm     float64 `json:"radiusKm"`
	Found        int     `json:"found"`
	Notified     int     `json:"notified"`
	Failed       int     `json:"failed"`
	NoCandidates bool    `json:"noCandidates"`
}

// Engine runs the expanding-radius search and the offer fan-out.
type Engine struct {
	matcher    ports.Matcher
	classifier ports.Classifier
	emitter    ports.Emitter
	ledger     ports.OfferLedger
	monitor    *monitor.Monitor
	logger     *logger.Logger
	opts       Options
}

// NewEngine wires an Engine. Zero-valued options fall back to DefaultOptions.
func NewEngine(
	matcher ports.Matcher,
	cls ports.Classifier,
	emitter ports.Emitter,
	ledger ports.OfferLedger,
	mon *monitor.Monitor,
	logger *logger.Logger,
	opts Options,
) *Engine {
	def := DefaultOptions()
	if len(opts.RadiiKm) == 0 {
		opts.RadiiKm = def.RadiiKm
	}
	if opts.TopN <= 0 {
		opts.TopN = def.TopN
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}

	return &Engine{
		matcher:    matcher,
		classifier: cls,
		emitter:    emitter,
		ledger:     ledger,
		monitor:    mon,
		logger:     logger,
		opts:       opts,
	}
}

// Dispatch finds, ranks and notifies candidate workers for job. Finding nobody
// is a normal outcome; only a matcher failure returns an error.
func (e *Engine) Dispatch(ctx context.Context, job *jobs.Job) (Outcome, error) {
	out := Outcome{JobID: job.ID}

	out.Category = e.classifier.Classify(job.Description)
	filter := out.Category
	if filter == classifier.Uncategorized {
		filter = ""
	}

	var candidates []workers.Candidate
	for _, r := range e.opts.RadiiKm {
		found, err := e.matcher.FindNearby(ctx, job.Lat, job.Lng, r, filter)
		if err != nil {
			e.monitor.RecordFailure(job.ID)
			e.logger.Error(ctx, "dispatch_failed", "Worker search failed; dispatch aborted", err)
			return out, fmt.Errorf("find nearby workers within %.1f km: %w", r, err)
		}

		e.logger.Debug(ctx, "radius_searched", "Searched for workers", map[string]any{
			"job_id":    job.ID,
			"radius_km": r,
			"category":  out.Category,
			"found":     len(found),
		})

		out.RadiusKm = r
		if len(found) > 0 {
			candidates = found
			break
		}
	}

	if len(candidates) == 0 {
		out.NoCandidates = true
		e.monitor.RecordNoCandidates(job.ID)
		e.notifyCustomer(ctx, job, contracts.JobStatusNotice{
			Type:    "error",
			JobID:   job.ID,
			Status:  string(job.Status),
			Message: NoWorkersMessage,
		})
		e.logger.Info(ctx, "no_workers_found", "No workers found within maximum radius", map[string]any{
			"job_id":    job.ID,
			"radius_km": out.RadiusKm,
			"category":  out.Category,
		})
		return out, nil
	}

	Rank(candidates)
	out.Found = len(candidates)
	if len(candidates) > e.opts.TopN {
		candidates = candidates[:e.opts.TopN]
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.WorkerID
	}
	if err := e.ledger.Record(ctx, job.ID, ids); err != nil {
		// unavailable notices will be missed; offers still go out
		e.logger.Error(ctx, "offer_ledger_failed", "Failed to record offered workers", err)
	}

	out.Notified, out.Failed = e.fanOut(ctx, job, out.Category, candidates)

	e.monitor.RecordBroadcast(job.ID, out.Found, out.Notified, out.Failed)
	e.notifyCustomer(ctx, job, contracts.JobStatusNotice{
		Type:    "info",
		JobID:   job.ID,
		Status:  string(job.Status),
		Message: fmt.Sprintf("%d workers notified", out.Notified),
	})

	e.logger.Info(ctx, "job_broadcast", "Job offered to nearby workers", map[string]any{
		"job_id":    job.ID,
		"category":  out.Category,
		"radius_km": out.RadiusKm,
		"found":     out.Found,
		"notified":  out.Notified,
		"failed":    out.Failed,
	})

	return out, nil
}

// fanOut sends one offer per candidate in parallel. A failed delivery never
// stops the others.
func (e *Engine) fanOut(ctx context.Context, job *jobs.Job, category string, candidates []workers.Candidate) (int, int) {
	var notified, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)

	for _, c := range candidates {
		offer := contracts.JobOffer{
			JobID:           job.ID,
			Description:     job.Description,
			Address:         job.Address,
			Lat:             job.Lat,
			Lng:             job.Lng,
			DistanceKm:      math.Round(c.DistanceKm*100) / 100,
			Category:        category,
			PoolSize:        len(candidates),
			BookedFor:       job.BookedFor,
			DurationMinutes: job.DurationMinutes,
		}
		workerID := c.WorkerID

		g.Go(func() error {
			if err := e.emitter.Emit(gctx, contracts.WorkerRoom(workerID), contracts.EventJobRequest, offer); err != nil {
				failed.Add(1)
				e.logger.Error(ctx, "offer_delivery_failed", "Failed to deliver job offer to "+workerID, err)
				return nil
			}
			notified.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return int(notified.Load()), int(failed.Load())
}

func (e *Engine) notifyCustomer(ctx context.Context, job *jobs.Job, notice contracts.JobStatusNotice) {
	if job.CustomerID == "" {
		return
	}
	if err := e.emitter.Emit(ctx, contracts.UserRoom(job.CustomerID), contracts.EventJobStatus, notice); err != nil {
		e.logger.Error(ctx, "customer_notice_failed", "Failed to notify customer", err)
	}
}

// Rank orders candidates by whole-kilometre distance band; inside a band the
// more experienced worker goes first, then the closer one.
func Rank(cs []workers.Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if ba, bb := distanceBand(a.DistanceKm), distanceBand(b.DistanceKm); ba != bb {
			return ba < bb
		}
		if a.ExperienceYears != b.ExperienceYears {
			return a.ExperienceYears > b.ExperienceYears
		}
		return a.DistanceKm < b.DistanceKm
	})
}

func distanceBand(km float64) float64 {
	return math.Floor(km / tieBreakKm)
}
