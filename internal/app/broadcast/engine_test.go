package broadcast

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fixit-services/dispatch/internal/app/classifier"
	"github.com/fixit-services/dispatch/internal/app/monitor"
	"github.com/fixit-services/dispatch/internal/domain/jobs"
	"github.com/fixit-services/dispatch/internal/domain/workers"
	"github.com/fixit-services/dispatch/internal/shared/contracts"
	"github.com/fixit-services/dispatch/internal/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	engine  *Engine
	matcher *distanceMatcher
	emitter *recordingEmitter
	ledger  *memoryLedger
	monitor *monitor.Monitor
}

func newHarness(cands []workers.Candidate, opts Options) *harness {
	h := &harness{
		matcher: &distanceMatcher{candidates: cands},
		emitter: &recordingEmitter{failFor: map[string]bool{}},
		ledger:  newMemoryLedger(),
		monitor: monitor.New(),
	}
	h.engine = NewEngine(h.matcher, classifier.New(classifier.DefaultTable()), h.emitter, h.ledger, h.monitor, logger.NewNop(), opts)
	return h
}

func testJob() *jobs.Job {
	return &jobs.Job{ID: "job-1", CustomerID: "cust-1", Description: "kitchen pipe burst", Lat: 12.9, Lng: 77.6, Status: jobs.StatusPending}
}

func TestDispatch_RadiusExpandsUntilFound(t *testing.T) {
	h := newHarness([]workers.Candidate{{WorkerID: "w-far", DistanceKm: 12}}, Options{})

	out, err := h.engine.Dispatch(context.Background(), testJob())
	require.NoError(t, err)

	assert.Equal(t, []float64{5, 10, 15}, h.matcher.radii, "stops at the first non-empty radius")
	assert.Equal(t, 15.0, out.RadiusKm)
	assert.Equal(t, 1, out.Notified)

	offers := h.emitter.byEvent(contracts.EventJobRequest)
	require.Len(t, offers, 1)
	assert.Equal(t, contracts.WorkerRoom("w-far"), offers[0].room)
	offer := offers[0].payload.(contracts.JobOffer)
	assert.Equal(t, 12.0, offer.DistanceKm)
	assert.Equal(t, 1, offer.PoolSize)
	assert.Equal(t, "plumbing", offer.Category)
}

func TestDispatch_BoundaryIsExclusive(t *testing.T) {
	h := newHarness([]workers.Candidate{{WorkerID: "w", DistanceKm: 10}}, Options{})

	out, err := h.engine.Dispatch(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, 15.0, out.RadiusKm, "a worker exactly 10 km away is not inside the 10 km radius")
}

func TestRank_DistanceThenExperience(t *testing.T) {
	cs := []workers.Candidate{
		{WorkerID: "far-senior", DistanceKm: 5.3, ExperienceYears: 10},
		{WorkerID: "near-junior", DistanceKm: 4.5, ExperienceYears: 1},
	}
	Rank(cs)
	assert.Equal(t, "near-junior", cs[0].WorkerID, "different kilometre bands: distance wins")

	cs = []workers.Candidate{
		{WorkerID: "two-years", DistanceKm: 5.0, ExperienceYears: 2},
		{WorkerID: "seven-years", DistanceKm: 5.4, ExperienceYears: 7},
	}
	Rank(cs)
	assert.Equal(t, "seven-years", cs[0].WorkerID, "same kilometre band: experience wins")
}

func TestRank_BandsAreTransitive(t *testing.T) {
	cs := []workers.Candidate{
		{WorkerID: "c", DistanceKm: 6.1, ExperienceYears: 9},
		{WorkerID: "b", DistanceKm: 5.9, ExperienceYears: 1},
		{WorkerID: "a", DistanceKm: 5.2, ExperienceYears: 1},
		{WorkerID: "d", DistanceKm: 0.4, ExperienceYears: 0},
		{WorkerID: "e", DistanceKm: 5.5, ExperienceYears: 4},
	}
	Rank(cs)

	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.WorkerID
	}
	// 5.x band: 4 years first, then the two 1-year workers by distance
	assert.Equal(t, []string{"d", "e", "a", "b", "c"}, ids)
}

func TestDispatch_OffersFollowRanking(t *testing.T) {
	h := newHarness([]workers.Candidate{
		{WorkerID: "a", DistanceKm: 5.0, ExperienceYears: 2},
		{WorkerID: "b", DistanceKm: 5.4, ExperienceYears: 7},
		{WorkerID: "c", DistanceKm: 1.0, ExperienceYears: 0},
	}, Options{RadiiKm: []float64{20}})

	_, err := h.engine.Dispatch(context.Background(), testJob())
	require.NoError(t, err)

	offered, _ := h.ledger.Offered(context.Background(), "job-1")
	assert.Equal(t, []string{"c", "b", "a"}, offered)
}

func TestDispatch_NoCandidates(t *testing.T) {
	h := newHarness(nil, Options{})
	job := testJob()

	out, err := h.engine.Dispatch(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, out.NoCandidates)
	assert.Equal(t, []float64{5, 10, 15, 20}, h.matcher.radii)

	assert.Empty(t, h.emitter.byEvent(contracts.EventJobRequest))

	notices := h.emitter.byEvent(contracts.EventJobStatus)
	require.Len(t, notices, 1)
	assert.Equal(t, contracts.UserRoom("cust-1"), notices[0].room)
	notice := notices[0].payload.(contracts.JobStatusNotice)
	assert.Equal(t, "error", notice.Type)
	assert.Equal(t, NoWorkersMessage, notice.Message)

	s := h.monitor.Snapshot()
	assert.Equal(t, int64(1), s.NoCandidates)
	assert.Zero(t, s.JobsCreated)
	assert.Zero(t, s.JobsBroadcast)
	assert.Zero(t, s.WorkersNotified)
	assert.Zero(t, s.SuccessfulBroadcasts)
	assert.Zero(t, s.FailedBroadcasts)
}

func TestDispatch_PartialDeliveryFailure(t *testing.T) {
	h := newHarness([]workers.Candidate{
		{WorkerID: "ok-1", DistanceKm: 1},
		{WorkerID: "broken", DistanceKm: 2},
		{WorkerID: "ok-2", DistanceKm: 3},
	}, Options{})
	h.emitter.failFor[contracts.WorkerRoom("broken")] = true

	out, err := h.engine.Dispatch(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, 2, out.Notified)
	assert.Equal(t, 1, out.Failed)
	assert.Len(t, h.emitter.byEvent(contracts.EventJobRequest), 2)

	s := h.monitor.Snapshot()
	assert.Equal(t, int64(1), s.SuccessfulBroadcasts)
	assert.Equal(t, int64(2), s.WorkersNotified)
	assert.Equal(t, int64(1), s.FailedNotifications)

	summary := h.emitter.byEvent(contracts.EventJobStatus)
	require.Len(t, summary, 1)
	assert.Equal(t, "2 workers notified", summary[0].payload.(contracts.JobStatusNotice).Message)
}

func TestDispatch_AllDeliveriesFailIsAFailedBroadcast(t *testing.T) {
	h := newHarness([]workers.Candidate{{WorkerID: "broken", DistanceKm: 1}}, Options{})
	h.emitter.failFor[contracts.WorkerRoom("broken")] = true

	_, err := h.engine.Dispatch(context.Background(), testJob())
	require.NoError(t, err)

	s := h.monitor.Snapshot()
	assert.Equal(t, int64(1), s.FailedBroadcasts)
	assert.Zero(t, s.SuccessfulBroadcasts)
}

func TestDispatch_TopN(t *testing.T) {
	var cands []workers.Candidate
	for i := 0; i < 15; i++ {
		cands = append(cands, workers.Candidate{WorkerID: fmt.Sprintf("w%02d", i), DistanceKm: float64(i) * 0.1})
	}
	h := newHarness(cands, Options{TopN: 10})

	out, err := h.engine.Dispatch(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, 15, out.Found)
	assert.Equal(t, 10, out.Notified)

	offers := h.emitter.byEvent(contracts.EventJobRequest)
	require.Len(t, offers, 10)
	for _, o := range offers {
		assert.Equal(t, 10, o.payload.(contracts.JobOffer).PoolSize)
	}
}

func TestDispatch_MatcherErrorAborts(t *testing.T) {
	h := newHarness(nil, Options{})
	h.matcher.err = errors.New("db unavailable")

	_, err := h.engine.Dispatch(context.Background(), testJob())
	require.Error(t, err)

	assert.Equal(t, []float64{5}, h.matcher.radii, "no retry and no further radii")
	assert.Empty(t, h.emitter.events)
	assert.Equal(t, int64(1), h.monitor.Snapshot().FailedBroadcasts)
}

func TestDispatch_UncategorizedOmitsFilter(t *testing.T) {
	h := newHarness([]workers.Candidate{{WorkerID: "w", DistanceKm: 1}}, Options{})
	job := testJob()
	job.Description = "something unusual"

	out, err := h.engine.Dispatch(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, classifier.Uncategorized, out.Category)
	assert.Equal(t, []string{""}, h.matcher.categories)
}
