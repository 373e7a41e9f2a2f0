package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"shop-service/internal/auth"
	"shop-service/internal/models"
	"shop-service/internal/service"
	"shop-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type OrderAPI interface {
	PlaceOrder(ctx context.Context, clientID string, req *service.PlaceOrderRequest) (*models.Order, bool, error)
	GetOrder(ctx context.Context, clientID string, orderID int64) (*models.Order, error)
	OrderHistory(ctx context.Context, clientID string) ([]models.Order, error)
}

type PaymentAPI interface {
	CreatePaymentIntent(ctx context.Context, clientID string, orderID int64) (*service.PaymentIntent, error)
	VerifyPayment(ctx context.Context, req *service.VerifyPaymentRequest) (*models.Order, error)
	HandleWebhook(ctx context.Context, raw []byte, signature, eventID string) (service.WebhookOutcome, error)
}

type AccountAPI interface {
	CreateAddress(ctx context.Context, clientID string, req *service.AddressRequest) (*models.Address, error)
	ListAddresses(ctx context.Context, clientID string) ([]models.Address, error)
	ToggleWishlist(ctx context.Context, clientID string, productID int64) (bool, error)
	ListWishlist(ctx context.Context, clientID string) ([]models.Product, error)
}

// ReadinessCheck is a dependency probed by /ready
type ReadinessCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders   OrderAPI
	payments PaymentAPI
	accounts AccountAPI
	verifier auth.TokenVerifier
	checks   []ReadinessCheck
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(orders OrderAPI, payments PaymentAPI, accounts AccountAPI, verifier auth.TokenVerifier, checks ...ReadinessCheck) *Handler {
	return &Handler{
		orders:   orders,
		payments: payments,
		accounts: accounts,
		verifier: verifier,
		checks:   checks,
		logger:   util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.POST("/payments/webhook", h.paymentWebhook)

	authed := v1.Group("", auth.RequireAuth(h.verifier))
	{
		authed.POST("/orders/place", h.placeOrder)
		authed.GET("/orders/history", h.orderHistory)
		authed.GET("/orders/:id", h.getOrder)

		authed.POST("/payments/create", h.createPayment)
		authed.POST("/payments/verify", h.verifyPayment)

		authed.GET("/addresses", h.listAddresses)
		authed.POST("/addresses", h.createAddress)

		authed.GET("/wishlist", h.listWishlist)
		authed.POST("/wishlist", h.toggleWishlist)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for _, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			failed[check.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func subject(c *gin.Context) string {
	s, _ := auth.SubjectFromContext(c.Request.Context())
	return s
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
