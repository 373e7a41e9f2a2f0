package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_orders_placed_total",
		Help: "Total number of orders placed",
	}, []string{"payment_method"})

	OrdersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_orders_rejected_total",
		Help: "Total number of rejected order placements",
	}, []string{"reason"})

	OrderStatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_order_status_transitions_total",
		Help: "Order status transitions by target status and source",
	}, []string{"status", "source"})

	PlaceOrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shop_place_order_latency_seconds",
		Help:    "Latency of the order placement transaction",
		Buckets: prometheus.DefBuckets,
	})

	PaymentIntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_payment_intents_total",
		Help: "Payment intents by result",
	}, []string{"result"})

	GatewayRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shop_gateway_request_latency_seconds",
		Help:    "Latency of payment gateway requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "result"})

	PaymentVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_payment_verifications_total",
		Help: "Synchronous payment verifications by result",
	}, []string{"result"})

	WebhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_webhooks_total",
		Help: "Gateway webhook deliveries by event and outcome",
	}, []string{"event", "outcome"})

	FulfillmentEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_fulfillment_events_total",
		Help: "Consumed fulfillment events by type and outcome",
	}, []string{"event", "outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
