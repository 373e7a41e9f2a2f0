package api

import (
	"net/http"

	"shop-service/internal/models"
	"shop-service/internal/service"

	"github.com/gin-gonic/gin"
)

func orderResponse(o *models.Order) gin.H {
	items := o.Items
	if items == nil {
		items = []models.OrderItem{}
	}
	return gin.H{
		"order_id":          o.ID,
		"status":            o.Status,
		"payment_method":    o.PaymentMethod,
		"total_amount":      o.TotalAmount.StringFixed(2),
		"address_id":        o.AddressID,
		"gateway_order_ref": o.GatewayOrderRef,
		"created_at":        o.CreatedAt,
		"items":             items,
	}
}

// placeOrder handles order placement. A replayed Idempotency-Key answers 200
// with the original order.
func (h *Handler) placeOrder(c *gin.Context) {
	var req service.PlaceOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, created, err := h.orders.PlaceOrder(c.Request.Context(), subject(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, orderResponse(order))
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), subject(c), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, orderResponse(order))
}

func (h *Handler) orderHistory(c *gin.Context) {
	orders, err := h.orders.OrderHistory(c.Request.Context(), subject(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	out := make([]gin.H, 0, len(orders))
	for i := range orders {
		out = append(out, orderResponse(&orders[i]))
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}
