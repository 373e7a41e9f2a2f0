package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shop-service/internal/models"
	"shop-service/internal/payment"
	"shop-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Payment sources recorded on OrderPaid events and transition metrics
const (
	SourceVerify  = "verify"
	SourceWebhook = "webhook"
)

// WebhookOutcome is reported back to the gateway
type WebhookOutcome string

const (
	WebhookProcessed WebhookOutcome = "processed"
	WebhookIgnored   WebhookOutcome = "ignored"
)

type PaymentConfig struct {
	Currency  string
	Timeout   time.Duration
	ReplayTTL time.Duration
}

// PaymentService connects ledger orders with the payment gateway
type PaymentService struct {
	ledger         OrderLedger
	gateway        payment.Gateway
	eventPublisher EventPublisher
	replay         ReplayGuard
	cfg            PaymentConfig
	logger         *zap.Logger
}

// NewPaymentService creates a new payment service. replay may be nil, in
// which case webhook deduplication relies on the processed events table.
func NewPaymentService(
	ledger OrderLedger,
	gateway payment.Gateway,
	eventPublisher EventPublisher,
	replay ReplayGuard,
	cfg PaymentConfig,
) *PaymentService {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ReplayTTL <= 0 {
		cfg.ReplayTTL = 24 * time.Hour
	}
	return &PaymentService{
		ledger:         ledger,
		gateway:        gateway,
		eventPublisher: eventPublisher,
		replay:         replay,
		cfg:            cfg,
		logger:         util.GetLogger(),
	}
}

// PaymentIntent is what the checkout widget needs to collect a payment
type PaymentIntent struct {
	OrderID         int64  `json:"order_id"`
	GatewayOrderRef string `json:"gateway_order_ref"`
	AmountMinor     int64  `json:"amount_minor_units"`
	Currency        string `json:"currency"`
	PublicKey       string `json:"public_key"`
}

// CreatePaymentIntent creates (or returns the existing) gateway order for a
// pending ledger order owned by clientID.
func (s *PaymentService) CreatePaymentIntent(ctx context.Context, clientID string, orderID int64) (*PaymentIntent, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreatePaymentIntent")
	defer span.End()

	if s.gateway == nil {
		util.PaymentIntentsTotal.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("%w: no payment gateway configured", models.ErrGatewayUnavailable)
	}

	order, err := s.ledger.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ClientID != clientID {
		return nil, fmt.Errorf("%w: order %d", models.ErrOwnership, orderID)
	}
	if order.PaymentMethod != models.PaymentMethodGateway {
		return nil, fmt.Errorf("%w: order %d is not paid online", models.ErrValidation, orderID)
	}
	if order.Status != models.OrderStatusPending {
		return nil, fmt.Errorf("%w: order %d is %s", models.ErrValidation, orderID, order.Status)
	}

	minor := order.TotalAmount.Shift(2)
	if !minor.IsInteger() || !minor.IsPositive() {
		return nil, fmt.Errorf("%w: order %d total %s is not chargeable", models.ErrValidation, orderID, order.TotalAmount)
	}
	intent := &PaymentIntent{
		OrderID:     order.ID,
		AmountMinor: minor.IntPart(),
		Currency:    s.cfg.Currency,
		PublicKey:   s.gateway.PublicKey(),
	}

	if order.GatewayOrderRef != nil {
		intent.GatewayOrderRef = *order.GatewayOrderRef
		util.PaymentIntentsTotal.WithLabelValues("reused").Inc()
		return intent, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	remote, err := s.gateway.CreateOrder(callCtx, intent.AmountMinor, intent.Currency, fmt.Sprintf("order_%d", order.ID))
	if err != nil {
		util.PaymentIntentsTotal.WithLabelValues("gateway_error").Inc()
		util.RecordError(span, err)
		s.logger.Error("Gateway order creation failed", zap.Int64("order_id", order.ID), zap.Error(err))
		if !errors.Is(err, models.ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: %v", models.ErrGatewayUnavailable, err)
		}
		return nil, err
	}

	stored, err := s.ledger.AttachGatewayOrder(ctx, order.ID, remote.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to store gateway reference: %w", err)
	}
	if stored.GatewayOrderRef == nil {
		return nil, fmt.Errorf("%w: order %d is %s", models.ErrConflict, order.ID, stored.Status)
	}
	if *stored.GatewayOrderRef != remote.ID {
		s.logger.Info("Concurrent payment intent won, returning stored reference",
			zap.Int64("order_id", order.ID),
			zap.String("discarded_ref", remote.ID))
	}

	intent.GatewayOrderRef = *stored.GatewayOrderRef
	util.PaymentIntentsTotal.WithLabelValues("created").Inc()
	s.logger.Info("Payment intent created",
		zap.Int64("order_id", order.ID),
		zap.String("gateway_order_ref", intent.GatewayOrderRef),
		zap.Int64("amount_minor_units", intent.AmountMinor))
	return intent, nil
}

// VerifyPaymentRequest carries the fields checkout hands back to the client
type VerifyPaymentRequest struct {
	GatewayOrderRef   string `json:"gateway_order_ref"`
	GatewayPaymentRef string `json:"gateway_payment_ref"`
	GatewaySignature  string `json:"gateway_signature"`
}

// VerifyPayment checks the checkout signature and marks the order paid.
// Repeating a successful verification is a no-op.
func (s *PaymentService) VerifyPayment(ctx context.Context, req *VerifyPaymentRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.VerifyPayment")
	defer span.End()

	if req.GatewayOrderRef == "" || req.GatewayPaymentRef == "" || req.GatewaySignature == "" {
		util.PaymentVerificationsTotal.WithLabelValues("invalid_request").Inc()
		return nil, fmt.Errorf("%w: gateway_order_ref, gateway_payment_ref and gateway_signature are required", models.ErrValidation)
	}
	if s.gateway == nil {
		return nil, fmt.Errorf("%w: no payment gateway configured", models.ErrSignatureInvalid)
	}

	if err := s.gateway.VerifyPaymentSignature(req.GatewayOrderRef, req.GatewayPaymentRef, req.GatewaySignature); err != nil {
		util.PaymentVerificationsTotal.WithLabelValues("bad_signature").Inc()
		s.logger.Warn("Payment signature rejected",
			zap.String("gateway_order_ref", req.GatewayOrderRef),
			zap.Error(err))
		return nil, err
	}

	order, transitioned, err := s.ledger.MarkPaid(ctx, req.GatewayOrderRef, req.GatewayPaymentRef, req.GatewaySignature)
	if err != nil {
		util.PaymentVerificationsTotal.WithLabelValues(rejectReason(err)).Inc()
		util.RecordError(span, err)
		s.logger.Warn("Payment verification not applied",
			zap.String("gateway_order_ref", req.GatewayOrderRef),
			zap.String("gateway_payment_ref", req.GatewayPaymentRef),
			zap.Error(err))
		return nil, err
	}

	util.PaymentVerificationsTotal.WithLabelValues("success").Inc()
	if transitioned {
		s.onPaid(ctx, order, SourceVerify)
	}
	return order, nil
}

// HandleWebhook authenticates and applies a gateway webhook delivery. The
// signature is checked over the raw body before anything is parsed.
func (s *PaymentService) HandleWebhook(ctx context.Context, raw []byte, signature, eventID string) (WebhookOutcome, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleWebhook")
	defer span.End()

	if s.gateway == nil {
		util.WebhooksTotal.WithLabelValues("unknown", "rejected").Inc()
		return "", fmt.Errorf("%w: no payment gateway configured", models.ErrSignatureInvalid)
	}
	if err := s.gateway.VerifyWebhookSignature(raw, signature); err != nil {
		util.WebhooksTotal.WithLabelValues("unknown", "rejected").Inc()
		s.logger.Warn("Webhook signature rejected", zap.String("event_id", eventID), zap.Error(err))
		return "", err
	}

	event, err := payment.ParseWebhook(raw)
	if err != nil {
		util.WebhooksTotal.WithLabelValues("unknown", "malformed").Inc()
		return "", err
	}

	claimed := false
	if eventID != "" {
		fresh, err := s.claim(ctx, eventID)
		if err != nil {
			return "", err
		}
		if !fresh {
			util.WebhooksTotal.WithLabelValues(event.Event, "replay").Inc()
			s.logger.Info("Webhook replay ignored", zap.String("event_id", eventID), zap.String("event", event.Event))
			return WebhookIgnored, nil
		}
		claimed = s.replay != nil
	}

	outcome, err := s.applyWebhook(ctx, event)
	if err != nil {
		util.WebhooksTotal.WithLabelValues(event.Event, "error").Inc()
		util.RecordError(span, err)
		if claimed {
			if relErr := s.replay.ReleaseEvent(ctx, eventID); relErr != nil {
				s.logger.Error("Failed to release webhook claim", zap.String("event_id", eventID), zap.Error(relErr))
			}
		}
		return "", err
	}

	if eventID != "" {
		if err := s.ledger.MarkEventProcessed(ctx, eventID, event.Event); err != nil {
			s.logger.Error("Failed to mark webhook processed", zap.String("event_id", eventID), zap.Error(err))
		}
	}

	util.WebhooksTotal.WithLabelValues(event.Event, string(outcome)).Inc()
	return outcome, nil
}

// claim reports whether eventID has not been handled before. A Redis outage
// degrades to the processed events table.
func (s *PaymentService) claim(ctx context.Context, eventID string) (bool, error) {
	if s.replay != nil {
		ok, err := s.replay.ClaimEvent(ctx, eventID, s.cfg.ReplayTTL)
		if err != nil {
			s.logger.Warn("Replay guard unavailable", zap.String("event_id", eventID), zap.Error(err))
		} else if !ok {
			return false, nil
		}
	}

	processed, err := s.ledger.IsEventProcessed(ctx, eventID)
	if err != nil {
		if s.replay != nil {
			_ = s.replay.ReleaseEvent(ctx, eventID)
		}
		return false, fmt.Errorf("failed to check event processed: %w", err)
	}
	return !processed, nil
}

func (s *PaymentService) applyWebhook(ctx context.Context, event *payment.WebhookEvent) (WebhookOutcome, error) {
	switch event.Event {
	case payment.EventPaymentCaptured, payment.EventOrderPaid:
		orderRef, paymentRef := event.OrderRef(), event.PaymentRef()
		if orderRef == "" || paymentRef == "" {
			s.logger.Warn("Webhook without order or payment reference", zap.String("event", event.Event))
			return WebhookIgnored, nil
		}

		order, transitioned, err := s.ledger.MarkPaid(ctx, orderRef, paymentRef, "")
		switch {
		case errors.Is(err, models.ErrNotFound):
			s.logger.Warn("Webhook for unknown order reference", zap.String("gateway_order_ref", orderRef))
			return WebhookIgnored, nil
		case errors.Is(err, models.ErrConflict):
			s.logger.Error("Webhook conflicts with recorded payment",
				zap.String("gateway_order_ref", orderRef),
				zap.String("gateway_payment_ref", paymentRef),
				zap.Error(err))
			util.WebhooksTotal.WithLabelValues(event.Event, "conflict").Inc()
			return WebhookIgnored, nil
		case err != nil:
			return "", err
		}

		if transitioned {
			s.onPaid(ctx, order, SourceWebhook)
		}
		return WebhookProcessed, nil

	case payment.EventPaymentFailed:
		s.logger.Warn("Gateway reported failed payment",
			zap.String("gateway_order_ref", event.OrderRef()),
			zap.String("gateway_payment_ref", event.PaymentRef()))
		return WebhookProcessed, nil

	default:
		s.logger.Debug("Unhandled webhook event", zap.String("event", event.Event))
		return WebhookIgnored, nil
	}
}

func (s *PaymentService) onPaid(ctx context.Context, order *models.Order, source string) {
	util.OrderStatusTransitions.WithLabelValues(string(models.OrderStatusPaid), source).Inc()

	var orderRef, paymentRef string
	if order.GatewayOrderRef != nil {
		orderRef = *order.GatewayOrderRef
	}
	if order.GatewayPaymentRef != nil {
		paymentRef = *order.GatewayPaymentRef
	}
	s.logger.Info("Order paid",
		zap.Int64("order_id", order.ID),
		zap.String("gateway_payment_ref", paymentRef),
		zap.String("source", source))

	if s.eventPublisher == nil {
		return
	}
	event := &models.OrderPaidEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPaid,
			Timestamp: time.Now(),
		},
		OrderID:           order.ID,
		GatewayOrderRef:   orderRef,
		GatewayPaymentRef: paymentRef,
		Source:            source,
	}
	if err := s.eventPublisher.PublishOrderPaid(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPaid event", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}
