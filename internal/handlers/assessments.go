package handlers

import (
	"fmt"
	"strings"

	"github.com/chachabrian/bikeshare-backend/internal/apperrors"
	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/chachabrian/bikeshare-backend/internal/services"
	"github.com/gin-gonic/gin"
)

// SubmitAssessment records the drop-off assessment and opens the remaining
// payment for the balance plus its charges.
func SubmitAssessment(assessments *services.AssessmentModule, payments *services.PaymentCoordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var input services.AssessmentInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		a := actor(c)
		record, err := assessments.Submit(c.Request.Context(), a, id, input)
		if err != nil {
			respondError(c, err)
			return
		}
		remaining, err := payments.OpenRemaining(c.Request.Context(), a, id, record.Charges)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(201, gin.H{
			"assessment":     record,
			"paymentRequest": remaining,
		})
	}
}

// GetAssessment returns a booking's drop-off assessment
func GetAssessment(assessments *services.AssessmentModule) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		record, err := assessments.Get(c.Request.Context(), actor(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, record)
	}
}

// dropoffBooking loads the booking and checks the caller is its drop-off partner.
func dropoffBooking(c *gin.Context, machine *services.BookingMachine) (*models.Booking, bool) {
	id, ok := idParam(c, "id")
	if !ok {
		return nil, false
	}
	a := actor(c)
	booking, err := machine.Get(c.Request.Context(), a, id)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if !a.ActsFor(booking.DropoffPartnerID) {
		respondError(c, apperrors.ErrUnauthorized)
		return nil, false
	}
	return booking, true
}

// UploadAssessmentPhoto stores one photo and returns its URL for the
// assessment's photos list.
func UploadAssessmentPhoto(machine *services.BookingMachine, storage *services.PhotoStorage) gin.HandlerFunc {
	return func(c *gin.Context) {
		booking, ok := dropoffBooking(c, machine)
		if !ok {
			return
		}

		file, err := c.FormFile("photo")
		if err != nil {
			c.JSON(400, gin.H{"error": "No photo uploaded"})
			return
		}

		url, err := storage.UploadPhoto(file, fmt.Sprintf("assessments/%d", booking.ID))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(201, gin.H{"url": url})
	}
}

// DeleteAssessmentPhoto removes an uploaded photo that will not be used
func DeleteAssessmentPhoto(machine *services.BookingMachine, storage *services.PhotoStorage) gin.HandlerFunc {
	return func(c *gin.Context) {
		booking, ok := dropoffBooking(c, machine)
		if !ok {
			return
		}

		var input struct {
			URL string `json:"url" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		if !storage.Owns(input.URL) || !strings.Contains(input.URL, fmt.Sprintf("/assessments/%d/", booking.ID)) {
			c.JSON(400, gin.H{"error": "Photo was not uploaded here"})
			return
		}
		if err := storage.DeletePhoto(input.URL); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, gin.H{"message": "Photo deleted"})
	}
}
