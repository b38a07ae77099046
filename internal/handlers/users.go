package handlers

import (
	"github.com/chachabrian/bikeshare-backend/internal/database"
	"github.com/gin-gonic/gin"
)

// GetProfile retrieves the caller's account and, for partners, the business
func GetProfile(store database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		a := actor(c)
		user, err := store.GetUser(c.Request.Context(), a.UserID)
		if err != nil {
			c.JSON(404, gin.H{"error": "User not found"})
			return
		}

		response := gin.H{
			"id":          user.ID,
			"email":       user.Email,
			"username":    user.Username,
			"phoneNumber": user.PhoneNumber,
			"role":        user.Role,
		}
		if a.PartnerID != nil {
			partner, err := store.GetPartner(c.Request.Context(), *a.PartnerID)
			if err != nil {
				respondError(c, err)
				return
			}
			response["partner"] = gin.H{
				"id":           partner.ID,
				"businessName": partner.BusinessName,
				"location":     partner.Location,
				"status":       partner.Status,
			}
		}

		c.JSON(200, response)
	}
}
