package geomatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fixit-services/dispatch/internal/domain/workers"
	"github.com/fixit-services/dispatch/internal/ports"
	"github.com/fixit-services/dispatch/internal/shared/gormstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// latOffset returns the latitude that lies km north of lat along a meridian.
func latOffset(lat, km float64) float64 {
	return lat + km/(EarthRadiusKm*3.141592653589793/180)
}

func TestHaversineKm(t *testing.T) {
	assert.InDelta(t, 0, HaversineKm(10, 10, 10, 10), 1e-9)

	// Bengaluru to Chennai, roughly 290 km.
	assert.InDelta(t, 290, HaversineKm(12.9716, 77.5946, 13.0827, 80.2707), 5)

	// One degree of latitude on a 6371 km sphere.
	assert.InDelta(t, 111.195, HaversineKm(0, 0, 1, 0), 0.01)
}

func TestBoundingBox_ContainsRadius(t *testing.T) {
	box := BoundingBox(12.97, 77.59, 10)
	require.NotNil(t, box)

	north := latOffset(12.97, 9.99)
	assert.True(t, north < box.MaxLat)
	assert.True(t, box.MinLng < 77.59 && 77.59 < box.MaxLng)

	assert.Nil(t, BoundingBox(89.99, 0, 50), "pole wrap falls back to unbounded")
	assert.Nil(t, BoundingBox(0, 179.99, 50), "antimeridian wrap falls back to unbounded")
}

type setup struct {
	matcher *Matcher
	workers *gormstore.WorkersRepo
}

func newSetup(t *testing.T) setup {
	t.Helper()
	db, err := gormstore.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, gormstore.Migrate(context.Background(), db))

	repo := gormstore.NewWorkersRepo(db)
	return setup{matcher: NewMatcher(gormstore.NewUnitOfWork(db), repo), workers: repo}
}

func (s setup) addWorker(t *testing.T, lat, lng float64, category string) string {
	t.Helper()
	ctx := context.Background()
	w := &workers.Worker{FirstName: "W", LastName: category, Phone: "1",
		Specializations: []workers.Specialization{{Category: category}}}
	require.NoError(t, s.workers.Create(ctx, w))
	require.NoError(t, s.workers.UpsertLocation(ctx, w.ID, lat, lng, time.Now()))
	return w.ID
}

func TestFindNearby_StrictRadius(t *testing.T) {
	s := newSetup(t)
	originLat, originLng := 12.0, 77.0

	near := s.addWorker(t, latOffset(originLat, 4), originLng, "Plumbing")
	s.addWorker(t, latOffset(originLat, 12), originLng, "Plumbing")

	got, err := s.matcher.FindNearby(context.Background(), originLat, originLng, 5, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, near, got[0].WorkerID)
	assert.InDelta(t, 4, got[0].DistanceKm, 0.01)

	// a worker exactly on the boundary is excluded
	exact := HaversineKm(originLat, originLng, latOffset(originLat, 4), originLng)
	got, err = s.matcher.FindNearby(context.Background(), originLat, originLng, exact, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFindNearby_CategoryFilter(t *testing.T) {
	s := newSetup(t)

	s.addWorker(t, 12.001, 77.0, "Plumbing")
	electrician := s.addWorker(t, 12.002, 77.0, "Electrical")

	got, err := s.matcher.FindNearby(context.Background(), 12.0, 77.0, 5, "electr")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, electrician, got[0].WorkerID)

	got, err = s.matcher.FindNearby(context.Background(), 12.0, 77.0, 5, "")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

type failingWorkers struct{ ports.WorkerRepository }

func (failingWorkers) ListLive(context.Context, ports.LiveFilter) ([]workers.LiveWorker, error) {
	return nil, errors.New("store down")
}

type directUoW struct{}

func (directUoW) WithinTx(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }

func TestFindNearby_PropagatesStoreError(t *testing.T) {
	m := NewMatcher(directUoW{}, failingWorkers{})

	_, err := m.FindNearby(context.Background(), 0, 0, 5, "")
	assert.ErrorContains(t, err, "store down")
}
