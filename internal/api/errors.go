package api

import (
	"errors"
	"net/http"

	"shop-service/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusFor maps the error taxonomy to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrSignatureInvalid):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrOwnership):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInsufficientStock), errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrGatewayUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds with the mapped status. Signature failures and
// internal errors carry no details.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)

	switch {
	case errors.Is(err, models.ErrSignatureInvalid):
		c.JSON(status, gin.H{"error": "Invalid signature"})
	case status == http.StatusInternalServerError:
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "Internal server error"})
	case status == http.StatusServiceUnavailable:
		c.Header("Retry-After", "1")
		c.JSON(status, gin.H{"error": http.StatusText(status), "details": err.Error()})
	default:
		c.JSON(status, gin.H{"error": http.StatusText(status), "details": err.Error()})
	}
}
