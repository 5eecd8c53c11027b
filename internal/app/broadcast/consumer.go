package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fixit-services/dispatch/internal/app/monitor"
	"github.com/fixit-services/dispatch/internal/domain/jobs"
	"github.com/fixit-services/dispatch/internal/shared/contracts"
	"github.com/fixit-services/dispatch/internal/shared/logger"
	"github.com/fixit-services/dispatch/internal/shared/rabbitmq"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Dispatcher is the part of Engine the consumer needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *jobs.Job) (Outcome, error)
}

// ChannelSource opens consumer channels; *rabbitmq.Client satisfies it.
type ChannelSource interface {
	NewConsumerChannel(prefetch int) (*amqp.Channel, error)
}

// Consumer reads job.created messages from the dispatch queue.
type Consumer struct {
	source     ChannelSource
	dispatcher Dispatcher
	monitor    *monitor.Monitor
	logger     *logger.Logger
	prefetch   int
}

// NewConsumer constructs a Consumer.
func NewConsumer(source ChannelSource, dispatcher Dispatcher, mon *monitor.Monitor, logger *logger.Logger, prefetch int) *Consumer {
	return &Consumer{source: source, dispatcher: dispatcher, monitor: mon, logger: logger, prefetch: prefetch}
}

const (
	retryBaseDelay = time.Second
	retryMaxDelay  = 30 * time.Second
)

// ConsumeForever consumes the dispatch queue until ctx is done, reopening the
// channel with backoff whenever it is lost.
func (c *Consumer) ConsumeForever(ctx context.Context) {
	backoff := retryBaseDelay
	for ctx.Err() == nil {
		started, err := c.consumeOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if started {
			backoff = retryBaseDelay
		}

		c.logger.Error(ctx, "dispatch_consumer_interrupted", fmt.Sprintf("Dispatch consumer stopped; retrying in %s", backoff), err)
		if !sleepWithContext(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, retryMaxDelay)
	}
}

// consumeOnce handles deliveries on one channel until it closes or ctx is
// done. started reports whether the queue was ever being consumed.
func (c *Consumer) consumeOnce(ctx context.Context) (started bool, err error) {
	ch, err := c.source.NewConsumerChannel(c.prefetch)
	if err != nil {
		return false, fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	deliveries, err := ch.Consume(rabbitmq.DispatchQueue, "", false, false, false, false, nil)
	if err != nil {
		return false, fmt.Errorf("consume %s: %w", rabbitmq.DispatchQueue, err)
	}
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	c.logger.Info(ctx, "dispatch_consumer_started", "Consuming dispatch queue", map[string]any{
		"queue":    rabbitmq.DispatchQueue,
		"prefetch": c.prefetch,
	})

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()

		case amqpErr, ok := <-closed:
			if ok && amqpErr != nil {
				return true, fmt.Errorf("consumer channel closed: %w", amqpErr)
			}
			return true, errors.New("consumer channel closed")

		case d, ok := <-deliveries:
			if !ok {
				return true, errors.New("deliveries channel closed")
			}
			c.HandleDelivery(ctx, d)
		}
	}
}

// HandleDelivery decodes one message, dispatches it and acks. Malformed
// messages and failed dispatches go to the dead-letter queue; nothing is requeued.
func (c *Consumer) HandleDelivery(ctx context.Context, d amqp.Delivery) {
	var msg contracts.JobCreatedMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.Error(ctx, "message_decode_failed", "Failed to decode JobCreatedMessage", err)
		_ = d.Nack(false, false)
		return
	}
	if err := validate(msg); err != nil {
		c.logger.Error(ctx, "message_invalid", "Rejecting invalid JobCreatedMessage", err)
		_ = d.Nack(false, false)
		return
	}

	rid := d.MessageId
	if rid == "" {
		rid = "job-" + msg.JobID
	}
	ctx = c.logger.WithRequestID(ctx, rid)

	c.monitor.TrackJobCreation()

	job := &jobs.Job{
		ID:              msg.JobID,
		CustomerID:      msg.CustomerID,
		Description:     msg.Description,
		Address:         msg.Address,
		Lat:             msg.Lat,
		Lng:             msg.Lng,
		Status:          jobs.StatusPending,
		BookedFor:       msg.BookedFor,
		DurationMinutes: msg.DurationMinutes,
		CreatedAt:       msg.CreatedAt,
	}

	if _, err := c.dispatcher.Dispatch(ctx, job); err != nil {
		c.logger.Error(ctx, "dispatch_failed", "Dispatch failed; nacking to DLX", err)
		_ = d.Nack(false, false)
		return
	}

	if err := d.Ack(false); err != nil {
		c.logger.Error(ctx, "rabbitmq_ack_failed", "Failed to ack job message", err)
	}
}

func validate(msg contracts.JobCreatedMessage) error {
	var problems []string
	if strings.TrimSpace(msg.JobID) == "" {
		problems = append(problems, "job_id is required")
	}
	if msg.Lat < -90 || msg.Lat > 90 {
		problems = append(problems, "lat out of range")
	}
	if msg.Lng < -180 || msg.Lng > 180 {
		problems = append(problems, "lng out of range")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid job message: %s", strings.Join(problems, "; "))
	}
	return nil
}

// sleepWithContext sleeps for the given duration or returns early if ctx is done.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// nextBackoff doubles curr, capped at limit.
func nextBackoff(curr, limit time.Duration) time.Duration {
	n := curr * 2
	if n > limit {
		return limit
	}
	return n
}
