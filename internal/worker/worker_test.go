package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"shop-service/internal/broker"
	"shop-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingFulfiller struct {
	calls []string
	err   error
}

func (r *recordingFulfiller) HandleShipmentDispatched(ctx context.Context, e *models.FulfillmentEvent) error {
	r.calls = append(r.calls, "shipped")
	return r.err
}

func (r *recordingFulfiller) HandleShipmentDelivered(ctx context.Context, e *models.FulfillmentEvent) error {
	r.calls = append(r.calls, "delivered")
	return r.err
}

func (r *recordingFulfiller) HandleOrderCancelled(ctx context.Context, e *models.FulfillmentEvent) error {
	r.calls = append(r.calls, "cancelled")
	return r.err
}

// sliceSource hands a fixed batch of messages to the handler and collects results
type sliceSource struct {
	msgs    []kafka.Message
	results []error
	closed  bool
}

func (s *sliceSource) StartConsuming(ctx context.Context, handler broker.MessageHandler) error {
	for _, m := range s.msgs {
		s.results = append(s.results, handler(ctx, m))
	}
	return nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

func message(t *testing.T, eventType string) kafka.Message {
	body, err := json.Marshal(models.FulfillmentEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-" + eventType, EventType: eventType},
		OrderID:   7,
	})
	require.NoError(t, err)
	return kafka.Message{Value: body}
}

func TestFulfillmentWorkerRoutesEvents(t *testing.T) {
	source := &sliceSource{msgs: []kafka.Message{
		message(t, models.EventTypeShipmentDispatched),
		message(t, models.EventTypeShipmentDelivered),
		message(t, models.EventTypeOrderCancelled),
		message(t, models.EventTypeOrderPlaced),
	}}
	fulfiller := &recordingFulfiller{}
	w := NewFulfillmentWorker(source, fulfiller)

	require.NoError(t, w.Start(context.Background()))

	assert.Equal(t, []string{"shipped", "delivered", "cancelled"}, fulfiller.calls)
	for _, err := range source.results {
		assert.NoError(t, err)
	}

	require.NoError(t, w.Stop())
	assert.True(t, source.closed)
}

func TestFulfillmentWorkerSurfacesHandlerErrors(t *testing.T) {
	boom := errors.New("database unavailable")
	source := &sliceSource{msgs: []kafka.Message{message(t, models.EventTypeShipmentDispatched)}}
	w := NewFulfillmentWorker(source, &recordingFulfiller{err: boom})

	require.NoError(t, w.Start(context.Background()))
	require.Len(t, source.results, 1)
	assert.ErrorIs(t, source.results[0], boom)
}
