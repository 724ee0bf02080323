package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kevin07696/escrow-service/internal/auth"
	"github.com/kevin07696/escrow-service/internal/domain"
	"go.uber.org/zap"
)

// TokenVerifier validates bearer tokens
type TokenVerifier interface {
	ValidateToken(token string) (*domain.TokenClaims, error)
}

// Authenticate requires a valid bearer token and stores the actor in the
// request context
func Authenticate(tokens TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrorBody{
				Code:    domain.ErrorCodeAuthMissing,
				Message: "bearer token required",
			}})
			return
		}

		claims, err := tokens.ValidateToken(raw)
		if err != nil {
			logger.Debug("Rejected bearer token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrorBody{
				Code:    domain.ErrorCodeAuthMissing,
				Message: "invalid or expired token",
			}})
			return
		}

		ctx := auth.WithActor(c.Request.Context(), domain.ActorFromClaims(claims))
		c.Request = c.Request.WithContext(auth.WithTokenJTI(ctx, claims.ID))
		c.Next()
	}
}

// RateLimitKey charges authenticated requests to the user and the rest to
// the client address
func RateLimitKey(c *gin.Context) string {
	if actor, ok := auth.ActorFrom(c.Request.Context()); ok {
		return "user:" + actor.UserID
	}
	return "ip:" + c.ClientIP()
}

func currentActor(c *gin.Context) domain.Actor {
	actor, _ := auth.ActorFrom(c.Request.Context())
	return actor
}
