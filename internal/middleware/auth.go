package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/auth"
	"messaging-service/internal/observability"
	"messaging-service/internal/telemetry"
)

// Context keys set for authenticated requests.
const (
	UserIDKey   = "userID"
	UserRoleKey = "userRole"
	UserNameKey = "userName"
)

// AuthMiddleware validates the bearer token in the Authorization header.
func AuthMiddleware(authn *auth.JWTAuthenticator, audit *telemetry.AuditEmitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		token, ok := auth.BearerToken(header)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		claims, err := authn.Parse(token)
		if err != nil {
			audit.AuthFailure(c.Request.Context(), c.GetString(observability.RequestIDKey), "", observability.IPFromRequest(c.Request), err.Error())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(UserIDKey, claims.Subject)
		c.Set(UserRoleKey, claims.Role)
		c.Set(UserNameKey, claims.Name)
		c.Next()
	}
}
