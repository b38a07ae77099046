package handlers

import (
	"strconv"

	"github.com/chachabrian/bikeshare-backend/internal/apperrors"
	"github.com/chachabrian/bikeshare-backend/internal/middleware"
	"github.com/chachabrian/bikeshare-backend/internal/services"
	"github.com/gin-gonic/gin"
)

func actor(c *gin.Context) services.Actor {
	claims := middleware.Actor(c)
	return services.Actor{UserID: claims.UserID, Role: claims.Role, PartnerID: claims.PartnerID}
}

// respondError writes the short reason for err. Internal errors are
// attached to the context so the request logger records them.
func respondError(c *gin.Context, err error) {
	status, reason := apperrors.Status(err)
	if status >= 500 {
		c.Error(err)
	}
	body := gin.H{"error": reason}
	if apperrors.Retryable(err) {
		body["retryable"] = true
	}
	c.JSON(status, body)
}

// idParam parses a numeric path parameter, answering 400 when it is not one.
func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(400, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return uint(id), true
}
