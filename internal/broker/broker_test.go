package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"shop-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestPublishOrderPlaced(t *testing.T) {
	w := &recordingWriter{}
	pub := NewEventPublisher(newProducer(w))

	event := &models.OrderPlacedEvent{
		BaseEvent:   models.BaseEvent{EventID: "e1", EventType: models.EventTypeOrderPlaced, Timestamp: time.Now()},
		OrderID:     42,
		ClientID:    "auth0|c1",
		TotalAmount: decimal.RequireFromString("599.50"),
		Items:       []models.OrderItemData{{ProductID: 1, Quantity: 3, UnitPrice: decimal.RequireFromString("199.50")}},
	}
	require.NoError(t, pub.PublishOrderPlaced(context.Background(), event))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "order-42", string(w.msgs[0].Key))

	var decoded models.OrderPlacedEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, models.EventTypeOrderPlaced, decoded.EventType)
	assert.Equal(t, "599.5", decoded.TotalAmount.String())
	assert.Equal(t, 3, decoded.Items[0].Quantity)
}

func TestPublishOrderPaidWriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("leader not available")}
	pub := NewEventPublisher(newProducer(w))

	err := pub.PublishOrderPaid(context.Background(), &models.OrderPaidEvent{OrderID: 1})
	assert.ErrorContains(t, err, "failed to write message to kafka")
}

func TestHeaderCarrier(t *testing.T) {
	msg := kafka.Message{}
	c := headerCarrier{msg: &msg}

	c.Set("traceparent", "00-a-b-01")
	c.Set("traceparent", "00-c-d-01")
	c.Set("baggage", "k=v")

	assert.Equal(t, "00-c-d-01", c.Get("traceparent"))
	assert.Equal(t, "", c.Get("missing"))
	assert.ElementsMatch(t, []string{"traceparent", "baggage"}, c.Keys())
	assert.Len(t, msg.Headers, 2)
}

func fulfillmentMessage(t *testing.T, eventType, id string, orderID int64) kafka.Message {
	body, err := json.Marshal(models.FulfillmentEvent{
		BaseEvent: models.BaseEvent{EventID: id, EventType: eventType},
		OrderID:   orderID,
	})
	require.NoError(t, err)
	return kafka.Message{Value: body}
}

func TestEventHandlerRoutesFulfillmentEvents(t *testing.T) {
	h := NewEventHandler()
	var got []string
	record := func(ctx context.Context, e *models.FulfillmentEvent) error {
		got = append(got, e.EventType)
		return nil
	}
	h.OnShipmentDispatched(record)
	h.OnShipmentDelivered(record)
	h.OnOrderCancelled(record)

	ctx := context.Background()
	require.NoError(t, h.HandleMessage(ctx, fulfillmentMessage(t, models.EventTypeShipmentDispatched, "e1", 1)))
	require.NoError(t, h.HandleMessage(ctx, fulfillmentMessage(t, models.EventTypeShipmentDelivered, "e2", 1)))
	require.NoError(t, h.HandleMessage(ctx, fulfillmentMessage(t, models.EventTypeOrderCancelled, "e3", 2)))
	require.NoError(t, h.HandleMessage(ctx, fulfillmentMessage(t, "SOMETHING_ELSE", "e4", 2)))

	assert.Equal(t, []string{
		models.EventTypeShipmentDispatched,
		models.EventTypeShipmentDelivered,
		models.EventTypeOrderCancelled,
	}, got)
}

func TestEventHandlerDropsMalformedMessages(t *testing.T) {
	h := NewEventHandler()
	called := false
	h.OnShipmentDispatched(func(ctx context.Context, e *models.FulfillmentEvent) error {
		called = true
		return nil
	})

	ctx := context.Background()
	assert.NoError(t, h.HandleMessage(ctx, kafka.Message{Value: []byte("{not json")}))
	assert.NoError(t, h.HandleMessage(ctx, fulfillmentMessage(t, models.EventTypeShipmentDispatched, "", 1)))
	assert.NoError(t, h.HandleMessage(ctx, fulfillmentMessage(t, models.EventTypeShipmentDispatched, "e1", 0)))
	assert.False(t, called)
}

func TestEventHandlerPropagatesHandlerError(t *testing.T) {
	h := NewEventHandler()
	boom := errors.New("db down")
	h.OnOrderCancelled(func(ctx context.Context, e *models.FulfillmentEvent) error { return boom })

	err := h.HandleMessage(context.Background(), fulfillmentMessage(t, models.EventTypeOrderCancelled, "e1", 1))
	assert.ErrorIs(t, err, boom)
}

type scriptedReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *scriptedReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *scriptedReader) Close() error { return nil }

func TestConsumerRetriesFailedMessageBeforeMovingOn(t *testing.T) {
	reader := &scriptedReader{queue: []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}}}
	c := newConsumer(reader, "fulfillment")
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	handled := make(chan int64, 8)
	done := make(chan error, 1)
	failures := 2
	go func() {
		done <- c.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
			handled <- msg.Offset
			if msg.Offset == 2 && failures > 0 {
				failures--
				return errors.New("transient")
			}
			return nil
		})
	}()

	var order []int64
	for len(order) < 5 {
		select {
		case off := <-handled:
			order = append(order, off)
		case <-time.After(2 * time.Second):
			t.Fatalf("consumer stalled after %v", order)
		}
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []int64{1, 2, 2, 2, 3}, order)
	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)
}

func TestConsumerStopsRetryingWhenCancelled(t *testing.T) {
	reader := &scriptedReader{queue: []kafka.Message{{Offset: 1}, {Offset: 2}}}
	c := newConsumer(reader, "fulfillment")
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	attempts := make(chan struct{}, 64)
	done := make(chan error, 1)
	go func() {
		done <- c.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
			select {
			case attempts <- struct{}{}:
			default:
			}
			return errors.New("db down")
		})
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-attempts:
		case <-time.After(2 * time.Second):
			t.Fatal("handler was not retried")
		}
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.Empty(t, reader.committed)
	assert.Len(t, reader.queue, 1, "offset 2 must not be fetched while offset 1 is unhandled")
}
