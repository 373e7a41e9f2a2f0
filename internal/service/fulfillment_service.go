package service

import (
	"context"
	"errors"
	"fmt"

	"shop-service/internal/models"
	"shop-service/internal/util"

	"go.uber.org/zap"
)

// FulfillmentService drives orders past payment: shipping, delivery and
// cancellation of unpaid orders.
type FulfillmentService struct {
	ledger OrderLedger
	logger *zap.Logger
}

// NewFulfillmentService creates a new fulfillment service
func NewFulfillmentService(ledger OrderLedger) *FulfillmentService {
	return &FulfillmentService{
		ledger: ledger,
		logger: util.GetLogger(),
	}
}

// MarkShipped moves a paid order to shipped
func (fs *FulfillmentService) MarkShipped(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.MarkShipped")
	defer span.End()

	return fs.advance(ctx, orderID, models.OrderStatusShipped)
}

// MarkDelivered moves a shipped order to delivered
func (fs *FulfillmentService) MarkDelivered(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.MarkDelivered")
	defer span.End()

	return fs.advance(ctx, orderID, models.OrderStatusDelivered)
}

func (fs *FulfillmentService) advance(ctx context.Context, orderID int64, to models.OrderStatus) (*models.Order, error) {
	order, changed, err := fs.ledger.AdvanceStatus(ctx, orderID, to)
	if err != nil {
		return nil, err
	}
	if changed {
		util.OrderStatusTransitions.WithLabelValues(string(to), "fulfillment").Inc()
		fs.logger.Info("Order status advanced", zap.Int64("order_id", orderID), zap.String("status", string(to)))
	}
	return order, nil
}

// Cancel cancels a pending order and returns its stock to the catalog
func (fs *FulfillmentService) Cancel(ctx context.Context, orderID int64, reason string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.Cancel")
	defer span.End()

	order, changed, err := fs.ledger.CancelOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if changed {
		util.OrderStatusTransitions.WithLabelValues(string(models.OrderStatusCancelled), "fulfillment").Inc()
		fs.logger.Info("Order cancelled and restocked", zap.Int64("order_id", orderID), zap.String("reason", reason))
	}
	return order, nil
}

// HandleShipmentDispatched handles SHIPMENT_DISPATCHED events
func (fs *FulfillmentService) HandleShipmentDispatched(ctx context.Context, event *models.FulfillmentEvent) error {
	return fs.handle(ctx, event, func(ctx context.Context) error {
		_, err := fs.MarkShipped(ctx, event.OrderID)
		return err
	})
}

// HandleShipmentDelivered handles SHIPMENT_DELIVERED events
func (fs *FulfillmentService) HandleShipmentDelivered(ctx context.Context, event *models.FulfillmentEvent) error {
	return fs.handle(ctx, event, func(ctx context.Context) error {
		_, err := fs.MarkDelivered(ctx, event.OrderID)
		return err
	})
}

// HandleOrderCancelled handles ORDER_CANCELLED events
func (fs *FulfillmentService) HandleOrderCancelled(ctx context.Context, event *models.FulfillmentEvent) error {
	return fs.handle(ctx, event, func(ctx context.Context) error {
		_, err := fs.Cancel(ctx, event.OrderID, event.Reason)
		return err
	})
}

// handle runs apply once per event id. Events the state machine rejects are
// recorded as processed so the consumer moves on; other errors are returned
// so the consumer retries the same message.
func (fs *FulfillmentService) handle(ctx context.Context, event *models.FulfillmentEvent, apply func(context.Context) error) error {
	processed, err := fs.ledger.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		fs.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		util.FulfillmentEventsTotal.WithLabelValues(event.EventType, "duplicate").Inc()
		return nil
	}

	err = apply(ctx)
	switch {
	case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrNotFound):
		fs.logger.Warn("Fulfillment event rejected",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType),
			zap.Int64("order_id", event.OrderID),
			zap.Error(err))
		util.FulfillmentEventsTotal.WithLabelValues(event.EventType, "rejected").Inc()
	case err != nil:
		util.FulfillmentEventsTotal.WithLabelValues(event.EventType, "error").Inc()
		return err
	default:
		util.FulfillmentEventsTotal.WithLabelValues(event.EventType, "applied").Inc()
	}

	if err := fs.ledger.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		fs.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}
