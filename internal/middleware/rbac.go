package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/darasa-api/internal/models"
	appErrors "github.com/noah-isme/darasa-api/pkg/errors"
	"github.com/noah-isme/darasa-api/pkg/response"
)

// RequireKinds lets through only principals of the given kinds. Course-level
// checks (teacher of this course, enrolled student) stay in the services.
func RequireKinds(kinds ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(kinds))
	for _, k := range kinds {
		allowed[k] = struct{}{}
	}

	return func(c *gin.Context) {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[principal.Kind()]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
