package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/darasa-api/internal/models"
	appErrors "github.com/noah-isme/darasa-api/pkg/errors"
	"github.com/noah-isme/darasa-api/pkg/response"
)

const (
	// ContextUserKey is the gin context key storing JWT claims.
	ContextUserKey = "currentUser"
	// ContextPrincipalKey stores the principal resolved from the claims.
	ContextPrincipalKey = "currentPrincipal"
)

type authenticator interface {
	Authenticate(token string) (*models.JWTClaims, models.Principal, error)
}

// JWT protects routes by requiring a valid access token whose role maps to a principal.
func JWT(auth authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, principal, err := auth.Authenticate(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Set(ContextPrincipalKey, principal)
		c.Next()
	}
}

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(c *gin.Context) (models.Principal, bool) {
	value, exists := c.Get(ContextPrincipalKey)
	if !exists {
		return nil, false
	}
	principal, ok := value.(models.Principal)
	return principal, ok
}
