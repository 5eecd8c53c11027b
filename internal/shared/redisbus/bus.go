package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fixit-services/dispatch/internal/shared/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Message is what travels over the pub/sub channel.
type Message struct {
	Origin string          `json:"origin"`
	Room   string          `json:"room"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// Handler receives relayed events from other instances.
type Handler func(ctx context.Context, room, event string, data json.RawMessage)

// Bus relays room events between instances over a single Redis channel. An
// instance never receives its own messages back.
type Bus struct {
	rdb     *redis.Client
	channel string
	origin  string
	log     *logger.Logger
}

func NewBus(rdb *redis.Client, channel string, log *logger.Logger) *Bus {
	return &Bus{rdb: rdb, channel: channel, origin: uuid.NewString(), log: log}
}

// Origin identifies this instance on the channel.
func (b *Bus) Origin() string { return b.origin }

// Publish encodes payload and sends it to every other instance.
func (b *Bus) Publish(ctx context.Context, room, event string, payload any) error {
	raw, err := encode(b.origin, room, event, payload)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event, room, err)
	}
	return nil
}

// Emit makes a publish-only Bus usable as an event emitter by processes that
// hold no sockets of their own.
func (b *Bus) Emit(ctx context.Context, room, event string, payload any) error {
	return b.Publish(ctx, room, event, payload)
}

// Subscribe delivers messages from other instances to h until ctx is done,
// resubscribing with backoff if the subscription drops.
func (b *Bus) Subscribe(ctx context.Context, h Handler) {
	const (
		baseDelay = 500 * time.Millisecond
		maxDelay  = 10 * time.Second
	)
	delay := baseDelay

	for {
		err := b.receive(ctx, h)
		if ctx.Err() != nil {
			return
		}
		b.log.Error(ctx, "bus_subscription_lost", "Redis subscription dropped; resubscribing", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		delay = min(delay*2, maxDelay)
	}
}

func (b *Bus) receive(ctx context.Context, h Handler) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.log.Info(ctx, "bus_subscribed", "Listening for relayed events", map[string]any{"channel": b.channel, "origin": b.origin})

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return errors.New("subscription channel closed")
			}
			msg, keep, err := decode(b.origin, m.Payload)
			if err != nil {
				b.log.Warn(ctx, "bus_message_invalid", "Dropping undecodable relay message", map[string]any{"error": err.Error()})
				continue
			}
			if keep {
				h(ctx, msg.Room, msg.Event, msg.Data)
			}
		}
	}
}

func encode(origin, room, event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Message{Origin: origin, Room: room, Event: event, Data: data})
}

// decode parses a channel payload; keep is false for messages this instance sent.
func decode(self, payload string) (Message, bool, error) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return msg, false, err
	}
	if msg.Room == "" || msg.Event == "" {
		return msg, false, errors.New("room and event are required")
	}
	return msg, msg.Origin != self, nil
}
