package handlers

import (
	"github.com/chachabrian/bikeshare-backend/internal/services"
	"github.com/gin-gonic/gin"
)

// RegisterFCMToken registers or updates a user's FCM token
func RegisterFCMToken(push *services.PushNotifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			FCMToken string `json:"fcmToken" binding:"required"`
		}

		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		if err := push.RegisterToken(c.Request.Context(), actor(c).UserID, input.FCMToken); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, gin.H{"message": "FCM token registered successfully"})
	}
}

// RemoveFCMToken removes a user's FCM token
func RemoveFCMToken(push *services.PushNotifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := push.RegisterToken(c.Request.Context(), actor(c).UserID, ""); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, gin.H{"message": "FCM token removed successfully"})
	}
}
