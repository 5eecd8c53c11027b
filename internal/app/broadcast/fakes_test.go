package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/fixit-services/dispatch/internal/domain/workers"
)

type emitted struct {
	room    string
	event   string
	payload any
}

type recordingEmitter struct {
	mu      sync.Mutex
	events  []emitted
	failFor map[string]bool
}

func (e *recordingEmitter) Emit(_ context.Context, room, event string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failFor[room] {
		return errors.New("delivery failed")
	}
	e.events = append(e.events, emitted{room: room, event: event, payload: payload})
	return nil
}

func (e *recordingEmitter) byEvent(event string) []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []emitted
	for _, ev := range e.events {
		if ev.event == event {
			out = append(out, ev)
		}
	}
	return out
}

// distanceMatcher holds fixed candidate distances and applies the strict radius test.
type distanceMatcher struct {
	mu         sync.Mutex
	candidates []workers.Candidate
	radii      []float64
	categories []string
	err        error
}

func (m *distanceMatcher) FindNearby(_ context.Context, _, _, radiusKm float64, category string) ([]workers.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.radii = append(m.radii, radiusKm)
	m.categories = append(m.categories, category)
	if m.err != nil {
		return nil, m.err
	}
	var out []workers.Candidate
	for _, c := range m.candidates {
		if c.DistanceKm < radiusKm {
			out = append(out, c)
		}
	}
	return out, nil
}

type memoryLedger struct {
	mu     sync.Mutex
	offers map[string][]string
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{offers: map[string][]string{}}
}

func (l *memoryLedger) Record(_ context.Context, jobID string, ids []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offers[jobID] = append(l.offers[jobID], ids...)
	return nil
}

func (l *memoryLedger) Offered(_ context.Context, jobID string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.offers[jobID]...), nil
}

func (l *memoryLedger) Clear(_ context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.offers, jobID)
	return nil
}
