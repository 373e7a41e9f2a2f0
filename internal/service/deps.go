package service

import (
	"context"
	"time"

	"shop-service/internal/models"
	"shop-service/internal/store"
)

// OrderLedger is the persistence the orchestrator needs for orders.
// *store.Store implements it.
type OrderLedger interface {
	PlaceOrder(ctx context.Context, p store.PlaceOrderParams) (*models.Order, error)
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, clientID, key string) (*models.Order, error)
	ListOrdersByClient(ctx context.Context, clientID string) ([]models.Order, error)
	GetOrderItemsByOrderIDs(ctx context.Context, orderIDs []int64) ([]models.OrderItem, error)
	AttachGatewayOrder(ctx context.Context, orderID int64, ref string) (*models.Order, error)
	MarkPaid(ctx context.Context, orderRef, paymentRef, signature string) (*models.Order, bool, error)
	AdvanceStatus(ctx context.Context, orderID int64, to models.OrderStatus) (*models.Order, bool, error)
	CancelOrder(ctx context.Context, orderID int64) (*models.Order, bool, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// AccountStore backs addresses and the wishlist.
type AccountStore interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	CreateAddress(ctx context.Context, addr *models.Address) error
	ListAddressesByClient(ctx context.Context, clientID string) ([]models.Address, error)
	ToggleWishlist(ctx context.Context, clientID string, productID int64) (bool, error)
	ListWishlist(ctx context.Context, clientID string) ([]models.Product, error)
}

// EventPublisher emits domain events after state changes commit.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
}

// ReplayGuard claims webhook event ids so concurrent deliveries run once.
type ReplayGuard interface {
	ClaimEvent(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	ReleaseEvent(ctx context.Context, eventID string) error
}
