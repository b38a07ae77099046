package middleware

import (
	"strings"

	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/chachabrian/bikeshare-backend/pkg/utils"
	"github.com/gin-gonic/gin"
)

const (
	ctxUserID    = "userId"
	ctxRole      = "role"
	ctxPartnerID = "partnerId"
)

func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var tokenString string

		// First try to get token from Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}

		// If not found in header, try query parameter (for WebSocket)
		if tokenString == "" {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": "Authorization header or token query parameter required"})
			return
		}

		claims, err := utils.ValidateToken(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(401, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxRole, claims.Role)
		if claims.PartnerID != nil {
			c.Set(ctxPartnerID, *claims.PartnerID)
		}
		c.Next()
	}
}

// RequireRole lets the request through only for the listed roles.
func RequireRole(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := Role(c)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(403, gin.H{"error": "You are not allowed to perform this action"})
	}
}

// Actor returns the authenticated caller.
func Actor(c *gin.Context) utils.Claims {
	claims := utils.Claims{UserID: c.GetUint(ctxUserID), Role: Role(c)}
	if v, ok := c.Get(ctxPartnerID); ok {
		if id, ok := v.(uint); ok {
			claims.PartnerID = &id
		}
	}
	return claims
}

func Role(c *gin.Context) models.UserRole {
	v, _ := c.Get(ctxRole)
	role, _ := v.(models.UserRole)
	return role
}
