// Package rabbitmq holds the broker connection used for the job.created
// queue: a self-healing connection, the dispatch topology and confirmed
// publishing.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fixit-services/dispatch/internal/shared/config"
	"github.com/fixit-services/dispatch/internal/shared/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology names.
const (
	JobsExchange    = "jobs_topic"
	DeadLetterExch  = "jobs_dlx"
	DispatchQueue   = "dispatch_queue"
	DeadLetterQueue = "dispatch_dlq"
	JobCreatedKey   = "job.created"
)

const (
	dialTimeout      = 10 * time.Second
	heartbeat        = 10 * time.Second
	publishTimeout   = 5 * time.Second
	reconnectMin     = time.Second
	reconnectMax     = 30 * time.Second
	reconnectTimeout = 30 * time.Second
)

var (
	// ErrNotConnected is returned while the connection is down or being rebuilt.
	ErrNotConnected = errors.New("rabbitmq: not connected")
	// ErrNacked is returned when the broker refuses a published message.
	ErrNacked = errors.New("rabbitmq: message nacked by broker")
)

type queueSpec struct {
	name       string
	args       amqp.Table
	exchange   string
	bindingKey string
}

// topology is declared on every (re)connect. Declarations are idempotent.
var topology = struct {
	exchanges []string
	queues    []queueSpec
}{
	exchanges: []string{JobsExchange, DeadLetterExch},
	queues: []queueSpec{
		{
			name:       DispatchQueue,
			args:       amqp.Table{"x-dead-letter-exchange": DeadLetterExch},
			exchange:   JobsExchange,
			bindingKey: JobCreatedKey,
		},
		{
			name:       DeadLetterQueue,
			exchange:   DeadLetterExch,
			bindingKey: "#",
		},
	},
}

// Client keeps one connection and one confirm-mode publishing channel alive.
// Consumers open their own channels through NewConsumerChannel.
type Client struct {
	uri    string
	logger *logger.Logger
	logCtx context.Context

	mu      sync.RWMutex
	conn    *amqp.Connection
	pubChan *amqp.Channel

	closeOnce sync.Once
	closed    chan struct{}
	lost      chan struct{}
}

// ConnectRabbitMQ dials the broker once, declares the topology and starts the
// reconnect loop. A failed first dial is returned to the caller.
func ConnectRabbitMQ(ctx context.Context, cfg config.RabbitMQConfig, log *logger.Logger) (*Client, error) {
	client := &Client{
		uri:    brokerURI(cfg),
		logger: log,
		logCtx: context.WithoutCancel(ctx),
		closed: make(chan struct{}),
		lost:   make(chan struct{}, 1),
	}

	if err := client.connect(ctx); err != nil {
		return nil, fmt.Errorf("rabbitmq connect %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	go client.reconnectLoop()

	return client, nil
}

func brokerURI(cfg config.RabbitMQConfig) string {
	return (&amqp.URI{
		Scheme:   "amqp",
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.User,
		Password: cfg.Password,
		Vhost:    "/",
	}).String()
}

// NewConsumerChannel opens a channel with prefetch applied. The caller owns it.
func (client *Client) NewConsumerChannel(prefetch int) (*amqp.Channel, error) {
	conn, _ := client.current()
	if conn == nil {
		return nil, ErrNotConnected
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consumer channel: %w", err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("set prefetch %d: %w", prefetch, err)
		}
	}
	return ch, nil
}

// PublishMessage publishes a persistent JSON message and waits for the broker
// to confirm it.
func (client *Client) PublishMessage(ctx context.Context, exchange, routingKey, messageID string, body []byte) error {
	_, ch := client.current()
	if ch == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !acked {
		return ErrNacked
	}
	return nil
}

// Ping opens and closes a channel, which needs a live broker round trip.
func (client *Client) Ping(timeout time.Duration) error {
	conn, _ := client.current()
	if conn == nil {
		return ErrNotConnected
	}

	done := make(chan error, 1)
	go func() {
		ch, err := conn.Channel()
		if err == nil {
			err = ch.Close()
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("rabbitmq: ping timed out after %s", timeout)
	}
}

// Close stops reconnecting and closes the connection. Safe to call twice.
func (client *Client) Close() {
	client.closeOnce.Do(func() { close(client.closed) })

	client.mu.Lock()
	defer client.mu.Unlock()
	if client.pubChan != nil {
		_ = client.pubChan.Close()
		client.pubChan = nil
	}
	if client.conn != nil {
		_ = client.conn.Close()
		client.conn = nil
	}
}

// current returns the live connection and publishing channel, or nils.
func (client *Client) current() (*amqp.Connection, *amqp.Channel) {
	client.mu.RLock()
	defer client.mu.RUnlock()

	if client.conn == nil || client.conn.IsClosed() {
		return nil, nil
	}
	if client.pubChan == nil || client.pubChan.IsClosed() {
		return client.conn, nil
	}
	return client.conn, client.pubChan
}

func (client *Client) connect(ctx context.Context) error {
	start := time.Now()

	conn, err := amqp.DialConfig(client.uri, amqp.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(dialTimeout),
	})
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := declareTopology(ch); err != nil {
		_ = conn.Close()
		return fmt.Errorf("declare topology: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}

	client.mu.Lock()
	if client.pubChan != nil {
		_ = client.pubChan.Close()
	}
	client.conn, client.pubChan = conn, ch
	client.mu.Unlock()

	go client.notifyLost(conn, ch)

	client.logger.Info(ctx, "rabbitmq_connected", "Connected to RabbitMQ and declared dispatch topology", map[string]any{
		"exchange":    JobsExchange,
		"queue":       DispatchQueue,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// notifyLost signals the reconnect loop when either the connection or the
// publishing channel closes.
func (client *Client) notifyLost(conn *amqp.Connection, ch *amqp.Channel) {
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	var reason *amqp.Error
	select {
	case <-client.closed:
		return
	case reason = <-connClosed:
	case reason = <-chClosed:
	}

	details := map[string]any{}
	if reason != nil {
		details["code"] = reason.Code
		details["reason"] = reason.Reason
	}
	client.logger.Warn(client.logCtx, "rabbitmq_connection_lost", "RabbitMQ connection lost", details)

	select {
	case client.lost <- struct{}{}:
	default:
	}
}

func (client *Client) reconnectLoop() {
	for {
		select {
		case <-client.closed:
			return
		case <-client.lost:
		}

		delay := reconnectMin
		for attempt := 1; ; attempt++ {
			ctx, cancel := context.WithTimeout(client.logCtx, reconnectTimeout)
			err := client.connect(ctx)
			cancel()
			if err == nil {
				client.logger.Info(client.logCtx, "rabbitmq_reconnected", "Reconnected to RabbitMQ", map[string]any{"attempts": attempt})
				break
			}
			client.logger.Error(client.logCtx, "rabbitmq_reconnect_failed", fmt.Sprintf("RabbitMQ reconnect attempt %d failed", attempt), err)

			select {
			case <-client.closed:
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, reconnectMax)
		}
	}
}

func declareTopology(ch *amqp.Channel) error {
	for _, name := range topology.exchanges {
		if err := ch.ExchangeDeclare(name, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("exchange %s: %w", name, err)
		}
	}
	for _, q := range topology.queues {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("queue %s: %w", q.name, err)
		}
		if err := ch.QueueBind(q.name, q.bindingKey, q.exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", q.name, q.exchange, err)
		}
	}
	return nil
}
