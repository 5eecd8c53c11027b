package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fixit-services/dispatch/internal/shared/contracts"
)

// messagePublisher is the publishing half of Client.
type messagePublisher interface {
	PublishMessage(ctx context.Context, exchange, routingKey, messageID string, body []byte) error
}

// JobPublisher publishes job.created messages onto the jobs exchange.
type JobPublisher struct {
	client messagePublisher
}

// NewJobPublisher wraps a connected client.
func NewJobPublisher(client *Client) *JobPublisher {
	return &JobPublisher{client: client}
}

// PublishJobCreated sends msg with the job id as message id.
func (p *JobPublisher) PublishJobCreated(ctx context.Context, msg contracts.JobCreatedMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal job message: %w", err)
	}
	if err := p.client.PublishMessage(ctx, JobsExchange, JobCreatedKey, "job-"+msg.JobID, body); err != nil {
		return fmt.Errorf("publish job %s: %w", msg.JobID, err)
	}
	return nil
}
