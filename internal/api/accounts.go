package api

import (
	"net/http"

	"shop-service/internal/service"

	"github.com/gin-gonic/gin"
)

type wishlistRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
}

func (h *Handler) listAddresses(c *gin.Context) {
	addresses, err := h.accounts.ListAddresses(c.Request.Context(), subject(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"addresses": addresses})
}

func (h *Handler) createAddress(c *gin.Context) {
	var req service.AddressRequest
	if !bindJSON(c, &req) {
		return
	}

	addr, err := h.accounts.CreateAddress(c.Request.Context(), subject(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, addr)
}

func (h *Handler) listWishlist(c *gin.Context) {
	products, err := h.accounts.ListWishlist(c.Request.Context(), subject(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) toggleWishlist(c *gin.Context) {
	var req wishlistRequest
	if !bindJSON(c, &req) {
		return
	}

	added, err := h.accounts.ToggleWishlist(c.Request.Context(), subject(c), req.ProductID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": req.ProductID, "added": added})
}
