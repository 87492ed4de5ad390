package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-notify-engine/internal/models"
	appErrors "github.com/noah-isme/sma-notify-engine/pkg/errors"
	"github.com/noah-isme/sma-notify-engine/pkg/response"
)

// RequireRoles restricts a route to the listed roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		claims, ok := claimsValue.(*models.JWTClaims)
		if !exists || !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
