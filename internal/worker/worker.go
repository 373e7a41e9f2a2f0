package worker

import (
	"context"

	"shop-service/internal/broker"
	"shop-service/internal/models"
	"shop-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Fulfiller applies fulfillment events to orders
type Fulfiller interface {
	HandleShipmentDispatched(ctx context.Context, event *models.FulfillmentEvent) error
	HandleShipmentDelivered(ctx context.Context, event *models.FulfillmentEvent) error
	HandleOrderCancelled(ctx context.Context, event *models.FulfillmentEvent) error
}

// Source delivers messages to a handler until its context ends
type Source interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// FulfillmentWorker consumes the fulfillment topic and drives orders through
// shipped, delivered and cancelled.
type FulfillmentWorker struct {
	source       Source
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewFulfillmentWorker creates a new fulfillment worker
func NewFulfillmentWorker(source Source, fulfiller Fulfiller) *FulfillmentWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnShipmentDispatched(fulfiller.HandleShipmentDispatched)
	eventHandler.OnShipmentDelivered(fulfiller.HandleShipmentDelivered)
	eventHandler.OnOrderCancelled(fulfiller.HandleOrderCancelled)

	return &FulfillmentWorker{
		source:       source,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start blocks until ctx is cancelled
func (w *FulfillmentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting fulfillment worker")
	return w.source.StartConsuming(ctx, w.handle)
}

func (w *FulfillmentWorker) handle(ctx context.Context, msg kafka.Message) error {
	ctx, span := util.StartSpan(ctx, "FulfillmentWorker.handle")
	defer span.End()

	if err := w.eventHandler.HandleMessage(ctx, msg); err != nil {
		util.RecordError(span, err)
		return err
	}
	return nil
}

// Stop stops the worker
func (w *FulfillmentWorker) Stop() error {
	w.logger.Info("Stopping fulfillment worker")
	return w.source.Close()
}
