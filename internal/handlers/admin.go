package handlers

import (
	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/chachabrian/bikeshare-backend/internal/services"
	"github.com/gin-gonic/gin"
)

// ListPartners lists partner accounts, optionally by status
func ListPartners(approvals *services.PartnerApprovals) gin.HandlerFunc {
	return func(c *gin.Context) {
		partners, err := approvals.List(c.Request.Context(), actor(c), models.PartnerStatus(c.Query("status")))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, partners)
	}
}

// ApplyPartnerAction approves, rejects, suspends or reactivates a partner.
// One handler is mounted per action.
func ApplyPartnerAction(approvals *services.PartnerApprovals, action models.PartnerAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var input struct {
			Reason string `json:"reason"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&input); err != nil {
				c.JSON(400, gin.H{"error": err.Error()})
				return
			}
		}

		partner, err := approvals.Apply(c.Request.Context(), actor(c), id, action, input.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, partner)
	}
}
