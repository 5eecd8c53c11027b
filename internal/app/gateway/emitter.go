package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fixit-services/dispatch/internal/shared/contracts"
)

// Publisher relays room events to other instances.
type Publisher interface {
	Publish(ctx context.Context, room, event string, payload any) error
}

// Emitter delivers to local room members and relays to other instances.
type Emitter struct {
	hub *Hub
	bus Publisher
}

// NewEmitter builds an Emitter. bus may be nil for a single instance.
func NewEmitter(hub *Hub, bus Publisher) *Emitter {
	return &Emitter{hub: hub, bus: bus}
}

// Emit is successful once the event is queued locally and handed to the bus.
// An empty room is not an error: members may be on another instance.
func (e *Emitter) Emit(ctx context.Context, room, event string, payload any) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	e.hub.deliver(room, frame)

	if e.bus == nil {
		return nil
	}
	if err := e.bus.Publish(ctx, room, event, payload); err != nil {
		return fmt.Errorf("relay %s: %w", event, err)
	}
	return nil
}

// Relay delivers an event received from another instance to local members only.
func (e *Emitter) Relay(_ context.Context, room, event string, data json.RawMessage) {
	frame, err := json.Marshal(contracts.Envelope{Event: event, Data: data})
	if err != nil {
		return
	}
	e.hub.deliver(room, frame)
}

func encodeFrame(event string, payload any) ([]byte, error) {
	env, err := contracts.NewEnvelope(event, payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(env)
}
