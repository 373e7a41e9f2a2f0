package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"shop-service/internal/models"
	"shop-service/internal/store"
	"shop-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderService handles order placement and order reads
type OrderService struct {
	ledger         OrderLedger
	eventPublisher EventPublisher
	logger         *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(ledger OrderLedger, eventPublisher EventPublisher) *OrderService {
	return &OrderService{
		ledger:         ledger,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// PlaceOrderRequest represents a request to place an order
type PlaceOrderRequest struct {
	AddressID      int64              `json:"address_id"`
	Items          []OrderItemRequest `json:"items"`
	PaymentMethod  string             `json:"payment_method,omitempty"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest represents an item in an order. Price is the unit price
// the client displayed; when present it must match the catalog.
type OrderItemRequest struct {
	ProductID int64            `json:"product_id"`
	Quantity  int              `json:"quantity"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

func (r *PlaceOrderRequest) validate() (models.PaymentMethod, error) {
	if r.AddressID <= 0 {
		return "", fmt.Errorf("%w: address_id is required", models.ErrValidation)
	}
	if len(r.Items) == 0 {
		return "", fmt.Errorf("%w: order has no items", models.ErrValidation)
	}
	for i, item := range r.Items {
		if item.ProductID <= 0 {
			return "", fmt.Errorf("%w: item %d has no product_id", models.ErrValidation, i)
		}
		if item.Quantity <= 0 {
			return "", fmt.Errorf("%w: item %d quantity must be positive", models.ErrValidation, i)
		}
		if item.Quantity > models.MaxLineQuantity {
			return "", fmt.Errorf("%w: item %d quantity exceeds %d", models.ErrValidation, i, models.MaxLineQuantity)
		}
		if item.Price != nil && item.Price.IsNegative() {
			return "", fmt.Errorf("%w: item %d price is negative", models.ErrValidation, i)
		}
	}

	method := models.PaymentMethod(strings.ToLower(strings.TrimSpace(r.PaymentMethod)))
	if method == "" {
		method = models.PaymentMethodGateway
	}
	if !method.Valid() {
		return "", fmt.Errorf("%w: unknown payment method %q", models.ErrValidation, r.PaymentMethod)
	}
	return method, nil
}

// PlaceOrder validates the request and commits the order with its stock
// reservation. The bool is false when an earlier order with the same
// idempotency key was returned instead.
func (s *OrderService) PlaceOrder(ctx context.Context, clientID string, req *PlaceOrderRequest) (*models.Order, bool, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	if clientID == "" {
		return nil, false, fmt.Errorf("%w: missing subject", models.ErrValidation)
	}
	method, err := req.validate()
	if err != nil {
		util.OrdersRejectedTotal.WithLabelValues("validation").Inc()
		return nil, false, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.findByIdempotencyKey(ctx, clientID, req.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("order_id", existing.ID))
			return existing, false, nil
		}
	}

	lines := make([]store.OrderLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, store.OrderLine{ProductID: item.ProductID, Quantity: item.Quantity, Price: item.Price})
	}

	start := time.Now()
	order, err := s.ledger.PlaceOrder(ctx, store.PlaceOrderParams{
		ClientID:       clientID,
		AddressID:      req.AddressID,
		PaymentMethod:  method,
		IdempotencyKey: req.IdempotencyKey,
		Lines:          lines,
	})
	util.PlaceOrderLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		// a concurrent request with the same key committed first
		if req.IdempotencyKey != "" && errors.Is(err, models.ErrConflict) {
			existing, lookupErr := s.findByIdempotencyKey(ctx, clientID, req.IdempotencyKey)
			if lookupErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		util.OrdersRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		util.RecordError(span, err)
		s.logger.Warn("Order placement rejected",
			zap.String("client_id", clientID),
			zap.Int64("address_id", req.AddressID),
			zap.Error(err))
		return nil, false, err
	}

	util.OrdersPlacedTotal.WithLabelValues(string(method)).Inc()
	s.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.String("client_id", clientID),
		zap.String("total_amount", order.TotalAmount.StringFixed(2)),
		zap.Int("items", len(order.Items)))

	s.publishPlaced(ctx, order)
	return order, true, nil
}

func (s *OrderService) findByIdempotencyKey(ctx context.Context, clientID, key string) (*models.Order, error) {
	existing, err := s.ledger.GetOrderByIdempotencyKey(ctx, clientID, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing == nil {
		return nil, nil
	}
	if err := s.attachItems(ctx, []*models.Order{existing}); err != nil {
		return nil, err
	}
	return existing, nil
}

func (s *OrderService) publishPlaced(ctx context.Context, order *models.Order) {
	if s.eventPublisher == nil {
		return
	}

	items := make([]models.OrderItemData, 0, len(order.Items))
	for _, item := range order.Items {
		data := models.OrderItemData{Quantity: item.Quantity, UnitPrice: item.Price}
		if item.ProductID != nil {
			data.ProductID = *item.ProductID
		}
		items = append(items, data)
	}

	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: time.Now(),
		},
		OrderID:       order.ID,
		ClientID:      order.ClientID,
		TotalAmount:   order.TotalAmount,
		PaymentMethod: order.PaymentMethod,
		Items:         items,
	}

	if err := s.eventPublisher.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

// GetOrder retrieves an order with its items. Orders of other clients are
// reported as ErrOwnership.
func (s *OrderService) GetOrder(ctx context.Context, clientID string, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.ledger.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ClientID != clientID {
		return nil, fmt.Errorf("%w: order %d", models.ErrOwnership, orderID)
	}
	if err := s.attachItems(ctx, []*models.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

// OrderHistory lists the client's orders, newest first, with their items
func (s *OrderService) OrderHistory(ctx context.Context, clientID string) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.OrderHistory")
	defer span.End()

	orders, err := s.ledger.ListOrdersByClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	refs := make([]*models.Order, len(orders))
	for i := range orders {
		refs[i] = &orders[i]
	}
	if err := s.attachItems(ctx, refs); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *OrderService) attachItems(ctx context.Context, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, len(orders))
	byID := make(map[int64]*models.Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = o
		o.Items = []models.OrderItem{}
	}

	items, err := s.ledger.GetOrderItemsByOrderIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to get order items: %w", err)
	}
	for _, item := range items {
		if o, ok := byID[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrValidation):
		return "validation"
	case errors.Is(err, models.ErrBusy):
		return "busy"
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
