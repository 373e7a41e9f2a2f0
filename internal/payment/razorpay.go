package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"shop-service/internal/models"
	"shop-service/internal/util"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Gateway is the remote payment provider as seen by the orchestrator.
type Gateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*RemoteOrder, error)
	VerifyPaymentSignature(orderRef, paymentRef, signature string) error
	VerifyWebhookSignature(body []byte, signature string) error
	PublicKey() string
}

// RemoteOrder is the gateway-side order ("payment intent") created for a ledger order.
type RemoteOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type Config struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Timeout       time.Duration
}

// RazorpayClient talks to the Razorpay orders API over HTTP basic auth.
type RazorpayClient struct {
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
	http          *http.Client
}

// NewRazorpayClient creates a client. Missing credentials are allowed; calls
// that need them fail with ErrGatewayUnavailable or ErrSignatureInvalid.
func NewRazorpayClient(cfg Config) *RazorpayClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RazorpayClient{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		keyID:         cfg.KeyID,
		keySecret:     cfg.KeySecret,
		webhookSecret: cfg.WebhookSecret,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *RazorpayClient) configured() bool {
	return c.baseURL != "" && c.keyID != "" && c.keySecret != ""
}

// PublicKey returns the key id handed to the checkout widget
func (c *RazorpayClient) PublicKey() string {
	return c.keyID
}

type createOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder creates a remote order for amountMinor in the currency's minor unit
func (c *RazorpayClient) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*RemoteOrder, error) {
	ctx, span := util.StartSpan(ctx, "RazorpayClient.CreateOrder")
	defer span.End()

	if !c.configured() {
		return nil, fmt.Errorf("%w: credentials not configured", models.ErrGatewayUnavailable)
	}

	start := time.Now()
	order, err := c.createOrder(ctx, amountMinor, currency, receipt)
	result := "ok"
	if err != nil {
		result = "error"
		util.RecordError(span, err)
	}
	util.GatewayRequestLatency.WithLabelValues("create_order", result).Observe(time.Since(start).Seconds())
	return order, err
}

func (c *RazorpayClient) createOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*RemoteOrder, error) {
	body, err := json.Marshal(createOrderRequest{Amount: amountMinor, Currency: currency, Receipt: receipt})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build order request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", models.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr errorResponse
		_ = json.Unmarshal(raw, &apiErr)
		return nil, fmt.Errorf("%w: status %d %s %s", models.ErrGatewayUnavailable,
			resp.StatusCode, apiErr.Error.Code, apiErr.Error.Description)
	}

	var order RemoteOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("%w: decoding order: %v", models.ErrGatewayUnavailable, err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("%w: response without order id", models.ErrGatewayUnavailable)
	}
	return &order, nil
}

// VerifyPaymentSignature checks the signature returned to the client by checkout
func (c *RazorpayClient) VerifyPaymentSignature(orderRef, paymentRef, signature string) error {
	return VerifyHMAC(c.keySecret, PaymentSignatureMessage(orderRef, paymentRef), signature)
}

// VerifyWebhookSignature checks the signature header over the raw webhook body
func (c *RazorpayClient) VerifyWebhookSignature(body []byte, signature string) error {
	return VerifyHMAC(c.webhookSecret, body, signature)
}
