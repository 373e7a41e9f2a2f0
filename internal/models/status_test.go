package models

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestOrderStatusCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{"pending to paid", OrderStatusPending, OrderStatusPaid, true},
		{"pending to cancelled", OrderStatusPending, OrderStatusCancelled, true},
		{"paid to shipped", OrderStatusPaid, OrderStatusShipped, true},
		{"shipped to delivered", OrderStatusShipped, OrderStatusDelivered, true},
		{"paid again is a no-op", OrderStatusPaid, OrderStatusPaid, true},
		{"pending to shipped", OrderStatusPending, OrderStatusShipped, false},
		{"paid to cancelled", OrderStatusPaid, OrderStatusCancelled, false},
		{"cancelled to paid", OrderStatusCancelled, OrderStatusPaid, false},
		{"delivered to shipped", OrderStatusDelivered, OrderStatusShipped, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestOrderStatusIsTerminal(t *testing.T) {
	assert.True(t, OrderStatusDelivered.IsTerminal())
	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.False(t, OrderStatusPending.IsTerminal())
	assert.False(t, OrderStatusPaid.IsTerminal())
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(OrderStatusPending, OrderStatusPaid))

	err := ValidateTransition(OrderStatusCancelled, OrderStatusPaid)
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestOrderItemSubtotal(t *testing.T) {
	item := OrderItem{Price: decimal.RequireFromString("199.50"), Quantity: 3}
	assert.True(t, decimal.RequireFromString("598.50").Equal(item.Subtotal()))
}

func TestPaymentMethodValid(t *testing.T) {
	assert.True(t, PaymentMethodGateway.Valid())
	assert.True(t, PaymentMethodCOD.Valid())
	assert.False(t, PaymentMethod("card").Valid())
}
