package api

import (
	"errors"
	"io"
	"net/http"

	"shop-service/internal/models"
	"shop-service/internal/service"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

type createPaymentRequest struct {
	OrderID int64 `json:"order_id" binding:"required"`
}

func (h *Handler) createPayment(c *gin.Context) {
	var req createPaymentRequest
	if !bindJSON(c, &req) {
		return
	}

	intent, err := h.payments.CreatePaymentIntent(c.Request.Context(), subject(c), req.OrderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, intent)
}

// verifyPayment answers {"status":"success"} or {"status":"failed"}
func (h *Handler) verifyPayment(c *gin.Context) {
	var req service.VerifyPaymentRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.payments.VerifyPayment(c.Request.Context(), &req)
	switch {
	case errors.Is(err, models.ErrSignatureInvalid), errors.Is(err, models.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"status": "failed"})
		return
	case err != nil:
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"order_id": order.ID,
	})
}

// paymentWebhook receives gateway callbacks. The raw body is handed over
// untouched so the signature can be checked over the exact bytes.
func (h *Handler) paymentWebhook(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
		return
	}
	if len(raw) > maxWebhookBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large"})
		return
	}

	signature := c.GetHeader("X-Signature")
	if signature == "" {
		signature = c.GetHeader("X-Razorpay-Signature")
	}
	eventID := c.GetHeader("X-Event-Id")
	if eventID == "" {
		eventID = c.GetHeader("X-Razorpay-Event-Id")
	}

	outcome, err := h.payments.HandleWebhook(c.Request.Context(), raw, signature, eventID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": outcome})
}
