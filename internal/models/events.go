package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced = "ORDER_PLACED"
	EventTypeOrderPaid   = "ORDER_PAID"

	EventTypeShipmentDispatched = "SHIPMENT_DISPATCHED"
	EventTypeShipmentDelivered  = "SHIPMENT_DELIVERED"
	EventTypeOrderCancelled     = "ORDER_CANCELLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published once the placement transaction commits
type OrderPlacedEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	ClientID      string          `json:"client_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Items         []OrderItemData `json:"items"`
}

// OrderPaidEvent published when an order moves to paid
type OrderPaidEvent struct {
	BaseEvent
	OrderID           int64  `json:"order_id"`
	GatewayOrderRef   string `json:"gateway_order_ref"`
	GatewayPaymentRef string `json:"gateway_payment_ref"`
	Source            string `json:"source"`
}

// FulfillmentEvent is produced by external fulfillment tooling
type FulfillmentEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
