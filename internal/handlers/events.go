package handlers

import (
	"strconv"

	"github.com/chachabrian/bikeshare-backend/internal/services"
	"github.com/gin-gonic/gin"
)

// PollEvents returns the caller's next batch of unprocessed events
func PollEvents(events *services.EventHub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var after uint64
		if v := c.Query("after"); v != "" {
			var err error
			if after, err = strconv.ParseUint(v, 10, 64); err != nil {
				c.JSON(400, gin.H{"error": "Invalid after"})
				return
			}
		}

		a := actor(c)
		batch, err := events.Poll(c.Request.Context(), a.UserID, a.Role, uint(after))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, gin.H{"events": batch})
	}
}

// MarkEventProcessed acknowledges one of the caller's events
func MarkEventProcessed(events *services.EventHub) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		a := actor(c)
		if err := events.MarkProcessed(c.Request.Context(), a.UserID, a.Role, id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(204)
	}
}
