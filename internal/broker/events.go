package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"shop-service/internal/models"
	"shop-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// PublishOrderPlaced publishes OrderPlaced event
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderPaid publishes OrderPaid event
func (ep *EventPublisher) PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

type fulfillmentFunc func(context.Context, *models.FulfillmentEvent) error

// EventHandler routes fulfillment events to registered handlers
type EventHandler struct {
	handlers map[string]fulfillmentFunc
	logger   *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{
		handlers: map[string]fulfillmentFunc{},
		logger:   util.GetLogger(),
	}
}

// OnShipmentDispatched registers a handler for SHIPMENT_DISPATCHED events
func (eh *EventHandler) OnShipmentDispatched(handler func(context.Context, *models.FulfillmentEvent) error) {
	eh.handlers[models.EventTypeShipmentDispatched] = handler
}

// OnShipmentDelivered registers a handler for SHIPMENT_DELIVERED events
func (eh *EventHandler) OnShipmentDelivered(handler func(context.Context, *models.FulfillmentEvent) error) {
	eh.handlers[models.EventTypeShipmentDelivered] = handler
}

// OnOrderCancelled registers a handler for ORDER_CANCELLED events
func (eh *EventHandler) OnOrderCancelled(handler func(context.Context, *models.FulfillmentEvent) error) {
	eh.handlers[models.EventTypeOrderCancelled] = handler
}

// HandleMessage routes messages to appropriate handlers. Undecodable
// messages are logged and dropped so they do not block the partition.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var event models.FulfillmentEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		eh.logger.Error("Dropping undecodable message", zap.Int64("offset", msg.Offset), zap.Error(err))
		util.FulfillmentEventsTotal.WithLabelValues("unknown", "malformed").Inc()
		return nil
	}

	eh.logger.Info("Handling event",
		zap.String("event_type", event.EventType),
		zap.String("event_id", event.EventID),
		zap.Int64("order_id", event.OrderID))

	handler, ok := eh.handlers[event.EventType]
	if !ok {
		eh.logger.Debug("Unhandled event type", zap.String("event_type", event.EventType))
		return nil
	}
	if event.EventID == "" || event.OrderID <= 0 {
		eh.logger.Error("Dropping fulfillment event without id or order", zap.String("event_type", event.EventType))
		util.FulfillmentEventsTotal.WithLabelValues(event.EventType, "malformed").Inc()
		return nil
	}
	return handler(ctx, &event)
}
