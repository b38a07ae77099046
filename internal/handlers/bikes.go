package handlers

import (
	"github.com/chachabrian/bikeshare-backend/internal/services"
	"github.com/gin-gonic/gin"
)

// UpdateBikeAvailability applies the owning partner's manual availability
func UpdateBikeAvailability(ledger *services.InventoryLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "bikeId")
		if !ok {
			return
		}
		var input services.AvailabilityUpdate
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		bike, err := ledger.SetAvailability(c.Request.Context(), actor(c), id, input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, bike)
	}
}

// GetBikeAvailability returns a bike with the date ranges already held
func GetBikeAvailability(ledger *services.InventoryLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "bikeId")
		if !ok {
			return
		}
		view, err := ledger.Availability(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, view)
	}
}
