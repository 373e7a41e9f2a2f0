package models

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog
type Product struct {
	ID        int64           `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Slug      string          `db:"slug" json:"slug"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Stock     int             `db:"stock" json:"stock"`
	ViewCount int             `db:"view_count" json:"view_count"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Address is a delivery address owned by one subject
type Address struct {
	ID        int64     `db:"id" json:"id"`
	ClientID  string    `db:"client_id" json:"-"`
	Name      string    `db:"name" json:"name"`
	Phone     string    `db:"phone" json:"phone"`
	Street    string    `db:"street" json:"street"`
	City      string    `db:"city" json:"city"`
	Pincode   string    `db:"pincode" json:"pincode"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Order represents a customer order
type Order struct {
	ID                int64           `db:"id" json:"id"`
	ClientID          string          `db:"client_id" json:"-"`
	AddressID         *int64          `db:"address_id" json:"address_id"`
	TotalAmount       decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaymentMethod     PaymentMethod   `db:"payment_method" json:"payment_method"`
	Status            OrderStatus     `db:"status" json:"status"`
	GatewayOrderRef   *string         `db:"gateway_order_ref" json:"gateway_order_ref,omitempty"`
	GatewayPaymentRef *string         `db:"gateway_payment_ref" json:"gateway_payment_ref,omitempty"`
	GatewaySignature  *string         `db:"gateway_signature" json:"-"`
	IdempotencyKey    *string         `db:"idempotency_key" json:"-"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
	Items             []OrderItem     `db:"-" json:"items,omitempty"`
}

// MaxLineQuantity bounds a single line and the per-product total of an order;
// quantity and stock columns are INTEGER.
const MaxLineQuantity = math.MaxInt32

// OrderItem is one line of an order. Price is the unit price charged at
// placement and is never rewritten.
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID *int64          `db:"product_id" json:"product_id"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Quantity  int             `db:"quantity" json:"quantity"`
}

// Subtotal returns price * quantity
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// PaymentMethod is how the customer settles an order
type PaymentMethod string

const (
	PaymentMethodGateway PaymentMethod = "gateway"
	PaymentMethodCOD     PaymentMethod = "cod"
)

// Valid reports whether m is a known payment method
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodGateway || m == PaymentMethodCOD
}
