// Package geomatch finds workers whose live location lies within a radius of a point.
package geomatch

import (
	"context"
	"fmt"

	"github.com/fixit-services/dispatch/internal/domain/workers"
	"github.com/fixit-services/dispatch/internal/ports"
)

// Matcher answers radius queries over the worker store.
type Matcher struct {
	uow  ports.UnitOfWork
	repo ports.WorkerRepository
}

// NewMatcher constructs a Matcher.
func NewMatcher(uow ports.UnitOfWork, repo ports.WorkerRepository) *Matcher {
	return &Matcher{uow: uow, repo: repo}
}

// FindNearby returns workers strictly closer than radiusKm to the origin. An
// empty category disables the specialization filter. Order is unspecified.
func (m *Matcher) FindNearby(ctx context.Context, lat, lng, radiusKm float64, category string) ([]workers.Candidate, error) {
	var live []workers.LiveWorker
	err := m.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		live, err = m.repo.ListLive(txCtx, ports.LiveFilter{
			Category: category,
			Box:      BoundingBox(lat, lng, radiusKm),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list live workers: %w", err)
	}

	out := make([]workers.Candidate, 0, len(live))
	for _, w := range live {
		d := HaversineKm(lat, lng, w.Location.Lat, w.Location.Lng)
		if d >= radiusKm {
			continue
		}
		out = append(out, workers.Candidate{
			WorkerID:        w.ID,
			Name:            w.Name(),
			Phone:           w.Phone,
			ExperienceYears: w.ExperienceYears,
			DistanceKm:      d,
		})
	}

	return out, nil
}
