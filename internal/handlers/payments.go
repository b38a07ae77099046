package handlers

import (
	"net/http"

	"github.com/chachabrian/bikeshare-backend/internal/gateway"
	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/chachabrian/bikeshare-backend/internal/services"
	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 64 << 10

// GetBookingPayments lists a booking's payment requests
func GetBookingPayments(payments *services.PaymentCoordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		reqs, err := payments.Requests(c.Request.Context(), actor(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, reqs)
	}
}

// InitiatePayment starts paying a pending request by card or cash
func InitiatePayment(payments *services.PaymentCoordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "requestId")
		if !ok {
			return
		}
		var input struct {
			Method models.PaymentMethod `json:"method" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		result, err := payments.BeginCardCheckout(c.Request.Context(), actor(c), id, input.Method)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, result)
	}
}

// GetCheckoutStatus polls a checkout session
func GetCheckoutStatus(payments *services.PaymentCoordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := payments.PollCheckout(c.Request.Context(), actor(c), c.Param("sessionId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, status)
	}
}

// ReopenPayment replaces a failed payment request with a new one
func ReopenPayment(payments *services.PaymentCoordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "requestId")
		if !ok {
			return
		}
		req, err := payments.Reopen(c.Request.Context(), actor(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(201, req)
	}
}

// ConfirmCashPayment records cash received by the responsible partner
func ConfirmCashPayment(payments *services.PaymentCoordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "requestId")
		if !ok {
			return
		}
		req, err := payments.RecordCashSettlement(c.Request.Context(), actor(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, req)
	}
}

// PaymentWebhook receives the gateway's signed checkout notifications.
func PaymentWebhook(payments *services.PaymentCoordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
		payload, err := c.GetRawData()
		if err != nil {
			c.JSON(400, gin.H{"error": "Failed to read body"})
			return
		}

		var signature string
		for _, h := range gateway.SignatureHeaders {
			if signature = c.GetHeader(h); signature != "" {
				break
			}
		}

		if err := payments.HandleGatewayNotification(c.Request.Context(), payload, signature); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, gin.H{"received": true})
	}
}
