package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/darasa-api/internal/middleware"
	"github.com/noah-isme/darasa-api/internal/models"
	appErrors "github.com/noah-isme/darasa-api/pkg/errors"
	"github.com/noah-isme/darasa-api/pkg/response"
)

// principalOrAbort writes a 401 and returns false when the route was not authenticated.
func principalOrAbort(c *gin.Context) (models.Principal, bool) {
	principal, ok := middleware.PrincipalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return principal, true
}

func roomIDParam(c *gin.Context, name string) (int64, bool) {
	roomID, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || roomID <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid room id"))
		return 0, false
	}
	return roomID, true
}
