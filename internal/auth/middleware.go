package auth

import (
	"context"
	"net/http"
	"strings"

	"shop-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TokenVerifier turns a raw bearer token into a subject identifier.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// subject on the request context. A nil verifier rejects everything.
func RequireAuth(v TokenVerifier) gin.HandlerFunc {
	logger := util.GetLogger()

	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			unauthorized(c, "Missing bearer token")
			return
		}
		if v == nil {
			unauthorized(c, "Authentication is not configured")
			return
		}

		subject, err := v.Verify(c.Request.Context(), token)
		if err != nil {
			logger.Debug("Rejected bearer token", zap.Error(err))
			unauthorized(c, "Invalid token")
			return
		}

		c.Request = c.Request.WithContext(WithSubject(c.Request.Context(), subject))
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="api"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}
