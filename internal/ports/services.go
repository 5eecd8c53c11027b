package ports

import (
	"context"

	"github.com/fixit-services/dispatch/internal/domain/workers"
	"github.com/fixit-services/dispatch/internal/shared/contracts"
)

// Emitter delivers a named event to every member of a room, wherever they are connected.
type Emitter interface {
	Emit(ctx context.Context, room, event string, payload any) error
}

// Matcher finds workers with a live location strictly inside radiusKm of the origin.
type Matcher interface {
	FindNearby(ctx context.Context, lat, lng, radiusKm float64, category string) ([]workers.Candidate, error)
}

// Classifier maps a free-text description to a service category.
type Classifier interface {
	Classify(description string) string
}

// OfferLedger remembers which workers were offered a job so they can be told
// when it is taken. Shared across processes.
type OfferLedger interface {
	Record(ctx context.Context, jobID string, workerIDs []string) error
	Offered(ctx context.Context, jobID string) ([]string, error)
	Clear(ctx context.Context, jobID string) error
}

// JobPublisher puts newly created jobs on the dispatch queue.
type JobPublisher interface {
	PublishJobCreated(ctx context.Context, msg contracts.JobCreatedMessage) error
}
