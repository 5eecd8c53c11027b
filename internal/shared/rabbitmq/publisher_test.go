package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fixit-services/dispatch/internal/shared/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingClient struct {
	exchange, key, id string
	body              []byte
	err               error
}

func (r *recordingClient) PublishMessage(_ context.Context, exchange, routingKey, messageID string, body []byte) error {
	r.exchange, r.key, r.id, r.body = exchange, routingKey, messageID, body
	return r.err
}

func TestJobPublisher_PublishJobCreated(t *testing.T) {
	rc := &recordingClient{}
	p := &JobPublisher{client: rc}

	err := p.PublishJobCreated(context.Background(), contracts.JobCreatedMessage{JobID: "j1", Lat: 1, Lng: 2})
	require.NoError(t, err)

	assert.Equal(t, JobsExchange, rc.exchange)
	assert.Equal(t, JobCreatedKey, rc.key)
	assert.Equal(t, "job-j1", rc.id)

	var got contracts.JobCreatedMessage
	require.NoError(t, json.Unmarshal(rc.body, &got))
	assert.Equal(t, "j1", got.JobID)
}

func TestJobPublisher_WrapsError(t *testing.T) {
	boom := errors.New("channel closed")
	p := &JobPublisher{client: &recordingClient{err: boom}}

	err := p.PublishJobCreated(context.Background(), contracts.JobCreatedMessage{JobID: "j1"})
	assert.ErrorIs(t, err, boom)
}
