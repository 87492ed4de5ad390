package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-notify-engine/internal/dto"
	"github.com/noah-isme/sma-notify-engine/internal/middleware"
	"github.com/noah-isme/sma-notify-engine/internal/models"
	appErrors "github.com/noah-isme/sma-notify-engine/pkg/errors"
	"github.com/noah-isme/sma-notify-engine/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext returns the acting user or writes 401 and reports false.
func actorFromContext(c *gin.Context) (dto.Actor, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return dto.Actor{}, false
	}
	return dto.Actor{Username: claims.Username, Role: claims.Role}, true
}

func bindError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}
