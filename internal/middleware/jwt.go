package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-notify-engine/internal/models"
	appErrors "github.com/noah-isme/sma-notify-engine/pkg/errors"
	"github.com/noah-isme/sma-notify-engine/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// TokenVerifier validates bearer tokens and records session activity.
type TokenVerifier interface {
	ValidateToken(token string) (*models.JWTClaims, error)
	TouchSession(ctx context.Context, claims *models.JWTClaims)
}

// JWT protects routes by requiring a valid access token.
func JWT(tokens TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		tokens.TouchSession(c.Request.Context(), claims)
		c.Set(ContextUserKey, claims)
		c.Set("username", claims.Username)
		c.Next()
	}
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter for clients that cannot set headers on a
// websocket upgrade.
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		token := c.Query("access_token")
		return token, token != ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
