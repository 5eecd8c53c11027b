package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/fixit-services/dispatch/internal/app/monitor"
	"github.com/fixit-services/dispatch/internal/domain/jobs"
	"github.com/fixit-services/dispatch/internal/shared/contracts"
	"github.com/fixit-services/dispatch/internal/shared/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ackRecorder struct {
	acked    int
	nacked   int
	requeued bool
}

func (a *ackRecorder) Ack(uint64, bool) error { a.acked++; return nil }

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeued = a.requeued || requeue
	return nil
}

func (a *ackRecorder) Reject(_ uint64, requeue bool) error {
	a.nacked++
	a.requeued = a.requeued || requeue
	return nil
}

type stubDispatcher struct {
	got []*jobs.Job
	err error
}

func (s *stubDispatcher) Dispatch(_ context.Context, job *jobs.Job) (Outcome, error) {
	s.got = append(s.got, job)
	return Outcome{JobID: job.ID}, s.err
}

func delivery(t *testing.T, ack *ackRecorder, body any) amqp.Delivery {
	t.Helper()
	raw, ok := body.([]byte)
	if !ok {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: raw}
}

func TestHandleDelivery_AcksDispatchedJob(t *testing.T) {
	ack := &ackRecorder{}
	disp := &stubDispatcher{}
	mon := monitor.New()
	c := NewConsumer(nil, disp, mon, logger.NewNop(), 1)

	booked := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c.HandleDelivery(context.Background(), delivery(t, ack, contracts.JobCreatedMessage{
		JobID:       "job-7",
		CustomerID:  "cust-7",
		Description: "ceiling fan not working",
		Lat:         12.97,
		Lng:         77.59,
		BookedFor:   &booked,
	}))

	assert.Equal(t, 1, ack.acked)
	assert.Zero(t, ack.nacked)
	require.Len(t, disp.got, 1)
	assert.Equal(t, "job-7", disp.got[0].ID)
	assert.Equal(t, jobs.StatusPending, disp.got[0].Status)
	require.NotNil(t, disp.got[0].BookedFor)
	assert.True(t, booked.Equal(*disp.got[0].BookedFor))
	assert.Equal(t, int64(1), mon.Snapshot().JobsCreated)
}

func TestHandleDelivery_MalformedGoesToDeadLetter(t *testing.T) {
	ack := &ackRecorder{}
	disp := &stubDispatcher{}
	c := NewConsumer(nil, disp, monitor.New(), logger.NewNop(), 1)

	c.HandleDelivery(context.Background(), delivery(t, ack, []byte("{not json")))

	assert.Equal(t, 1, ack.nacked)
	assert.False(t, ack.requeued)
	assert.Empty(t, disp.got)
}

func TestHandleDelivery_InvalidCoordinatesRejected(t *testing.T) {
	ack := &ackRecorder{}
	disp := &stubDispatcher{}
	mon := monitor.New()
	c := NewConsumer(nil, disp, mon, logger.NewNop(), 1)

	c.HandleDelivery(context.Background(), delivery(t, ack, contracts.JobCreatedMessage{JobID: "j", Lat: 91}))

	assert.Equal(t, 1, ack.nacked)
	assert.Empty(t, disp.got)
	assert.Zero(t, mon.Snapshot().JobsCreated)
}

func TestHandleDelivery_DispatchErrorNotRequeued(t *testing.T) {
	ack := &ackRecorder{}
	disp := &stubDispatcher{err: errors.New("matcher down")}
	c := NewConsumer(nil, disp, monitor.New(), logger.NewNop(), 1)

	c.HandleDelivery(context.Background(), delivery(t, ack, contracts.JobCreatedMessage{JobID: "j", Lat: 1, Lng: 1}))

	assert.Zero(t, ack.acked)
	assert.Equal(t, 1, ack.nacked)
	assert.False(t, ack.requeued)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second, 30*time.Second))
	assert.Equal(t, 30*time.Second, nextBackoff(20*time.Second, 30*time.Second))
}

func TestSleepWithContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleepWithContext(ctx, time.Minute))
}
