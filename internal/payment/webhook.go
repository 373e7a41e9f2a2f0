package payment

import (
	"encoding/json"
	"fmt"

	"shop-service/internal/models"
)

// Webhook event names handled by the orchestrator
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventOrderPaid       = "order.paid"
)

// WebhookEvent is the subset of the gateway webhook envelope the shop reads.
type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity PaymentEntity `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

type PaymentEntity struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
	Status  string `json:"status"`
}

// OrderRef returns the gateway order reference carried by the event
func (e *WebhookEvent) OrderRef() string {
	if ref := e.Payload.Payment.Entity.OrderID; ref != "" {
		return ref
	}
	return e.Payload.Order.Entity.ID
}

// PaymentRef returns the gateway payment reference carried by the event
func (e *WebhookEvent) PaymentRef() string {
	return e.Payload.Payment.Entity.ID
}

// ParseWebhook decodes a webhook body. Call it only after the signature has
// been verified.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: malformed webhook payload: %v", models.ErrValidation, err)
	}
	if event.Event == "" {
		return nil, fmt.Errorf("%w: webhook payload without event", models.ErrValidation)
	}
	return &event, nil
}
