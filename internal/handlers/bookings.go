package handlers

import (
	"strconv"

	"github.com/chachabrian/bikeshare-backend/internal/database"
	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/chachabrian/bikeshare-backend/internal/services"
	"github.com/gin-gonic/gin"
)

// CreateBooking records a rider's booking request
func CreateBooking(machine *services.BookingMachine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input services.CreateBookingInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		booking, err := machine.Create(c.Request.Context(), actor(c), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(201, booking)
	}
}

// GetMyBookings lists the rider's own bookings
func GetMyBookings(machine *services.BookingMachine) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, ok := bookingFilter(c)
		if !ok {
			return
		}
		bookings, err := machine.List(c.Request.Context(), actor(c), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, bookings)
	}
}

// GetBooking returns one booking to a participant or an admin
func GetBooking(machine *services.BookingMachine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		booking, err := machine.Get(c.Request.Context(), actor(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, booking)
	}
}

// CancelBooking withdraws a requested or confirmed booking
func CancelBooking(machine *services.BookingMachine) gin.HandlerFunc {
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

		booking, err := machine.Cancel(c.Request.Context(), actor(c), id, input.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, booking)
	}
}

// GetPartnerBookings lists the bookings a partner picks up or receives
func GetPartnerBookings(machine *services.BookingMachine) gin.HandlerFunc {
	return func(c *gin.Context) {
		a := actor(c)
		filter, ok := bookingFilter(c)
		if !ok {
			return
		}
		if a.PartnerID != nil {
			switch c.DefaultQuery("as", "pickup") {
			case "pickup":
				filter.PickupPartnerID = *a.PartnerID
			case "dropoff":
				filter.DropoffPartnerID = *a.PartnerID
			default:
				c.JSON(400, gin.H{"error": "as must be pickup or dropoff"})
				return
			}
		}

		bookings, err := machine.List(c.Request.Context(), a, filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, bookings)
	}
}

// AcceptBooking confirms a request and returns the initial payment request
func AcceptBooking(machine *services.BookingMachine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		booking, initial, err := machine.Accept(c.Request.Context(), actor(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, gin.H{
			"booking":        booking,
			"paymentRequest": initial,
		})
	}
}

// RejectBooking declines a request
func RejectBooking(machine *services.BookingMachine) gin.HandlerFunc {
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

		booking, err := machine.Reject(c.Request.Context(), actor(c), id, input.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, booking)
	}
}

// CompleteBooking retries completion of a paid and assessed booking
func CompleteBooking(machine *services.BookingMachine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		booking, err := machine.CompleteAs(c.Request.Context(), actor(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, booking)
	}
}

// GetAllBookings lists bookings across the marketplace for admins
func GetAllBookings(machine *services.BookingMachine) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, ok := bookingFilter(c)
		if !ok {
			return
		}
		bookings, err := machine.List(c.Request.Context(), actor(c), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, bookings)
	}
}

func bookingFilter(c *gin.Context) (database.BookingFilter, bool) {
	var filter database.BookingFilter
	if status := c.Query("status"); status != "" {
		s := models.BookingStatus(status)
		if !s.Valid() {
			c.JSON(400, gin.H{"error": "Unknown status " + status})
			return filter, false
		}
		filter.Statuses = []models.BookingStatus{s}
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			c.JSON(400, gin.H{"error": "Invalid limit"})
			return filter, false
		}
		filter.Limit = n
	}
	return filter, true
}
