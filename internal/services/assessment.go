package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chachabrian/bikeshare-backend/internal/apperrors"
	"github.com/chachabrian/bikeshare-backend/internal/database"
	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/sirupsen/logrus"
)

const maxAssessmentPhotos = 12

// AssessmentInput is what the drop-off partner records at return.
type AssessmentInput struct {
	Items   []models.ConditionItem    `json:"conditionItems" binding:"required"`
	Charges []models.AdditionalCharge `json:"additionalCharges"`
	Notes   string                    `json:"notes"`
	Photos  []string                  `json:"photos"`
}

// AssessmentModule records the bike's condition at drop-off. It never
// changes booking status; its charges feed the remaining payment.
type AssessmentModule struct {
	store    database.Store
	payments *PaymentCoordinator
	events   *EventHub
	logger   *logrus.Logger
}

func NewAssessmentModule(store database.Store, payments *PaymentCoordinator, events *EventHub, logger *logrus.Logger) *AssessmentModule {
	return &AssessmentModule{store: store, payments: payments, events: events, logger: logger}
}

// Submit records or replaces the booking's assessment. Replacing is only
// possible while the booking is active and its remaining payment has not
// started; a pending remaining request is voided so a new one can be
// opened for the new charges.
func (a *AssessmentModule) Submit(ctx context.Context, actor Actor, bookingID uint, in AssessmentInput) (*models.DropoffAssessment, error) {
	if err := models.ValidateConditionItems(in.Items); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	if err := models.ValidateCharges(in.Charges); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	if len(in.Photos) > maxAssessmentPhotos {
		return nil, fmt.Errorf("%w: at most %d photos", apperrors.ErrInvalidInput, maxAssessmentPhotos)
	}
	for _, p := range in.Photos {
		if !strings.HasPrefix(p, "http://") && !strings.HasPrefix(p, "https://") {
			return nil, fmt.Errorf("%w: photo %q is not a URL", apperrors.ErrInvalidInput, p)
		}
	}

	var (
		record  *models.DropoffAssessment
		emitted []models.DomainEvent
	)
	err := a.store.Tx(ctx, func(tx database.Store) error {
		booking, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !actor.ActsFor(booking.DropoffPartnerID) {
			return fmt.Errorf("only the drop-off partner assesses booking %d: %w", booking.ID, apperrors.ErrUnauthorized)
		}
		if booking.Status != models.BookingActive {
			return fmt.Errorf("booking %d is %s: %w", booking.ID, booking.Status, apperrors.ErrStaleState)
		}

		reqs, err := tx.ListPaymentRequests(ctx, booking.ID)
		if err != nil {
			return err
		}
		for _, r := range reqs {
			if r.Kind != models.PaymentRemaining {
				continue
			}
			switch r.Status {
			case models.PaymentProcessing:
				return fmt.Errorf("booking %d remaining payment: %w", booking.ID, apperrors.ErrPaymentInFlight)
			case models.PaymentCompleted:
				return fmt.Errorf("booking %d remaining already paid: %w", booking.ID, apperrors.ErrStaleState)
			}
		}
		if err := a.payments.Void(ctx, tx, booking.ID, "voided: assessment resubmitted", models.PaymentRemaining); err != nil {
			return err
		}

		revision := 1
		prev, err := tx.GetAssessment(ctx, booking.ID)
		switch {
		case err == nil:
			revision = prev.Revision + 1
		case !errors.Is(err, database.ErrNotFound):
			return err
		}

		record = &models.DropoffAssessment{
			BookingID:  booking.ID,
			AssessorID: actor.UserID,
			PartnerID:  booking.DropoffPartnerID,
			Items:      in.Items,
			Charges:    in.Charges,
			Notes:      strings.TrimSpace(in.Notes),
			Photos:     in.Photos,
			Revision:   revision,
		}
		if err := tx.SaveAssessment(ctx, record); err != nil {
			return err
		}

		emitted = []models.DomainEvent{event(models.EventBookingUpdated, booking.RiderID, models.RoleRider, models.EventPayload{
			BookingID: booking.ID,
			Status:    booking.Status,
			Reason:    "drop-off assessment recorded",
			Amount:    models.SumCharges(in.Charges),
		})}
		return a.events.Record(ctx, tx, &emitted[0])
	})
	if err != nil {
		return nil, err
	}
	a.events.Dispatch(ctx, emitted)

	a.logger.WithFields(logrus.Fields{
		"bookingId": bookingID,
		"revision":  record.Revision,
		"charges":   models.SumCharges(record.Charges),
	}).Info("drop-off assessment recorded")
	return record, nil
}

// Get returns the booking's assessment for a participant.
func (a *AssessmentModule) Get(ctx context.Context, actor Actor, bookingID uint) (*models.DropoffAssessment, error) {
	booking, err := a.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanView(booking) {
		return nil, fmt.Errorf("booking %d: %w", bookingID, apperrors.ErrUnauthorized)
	}
	return a.store.GetAssessment(ctx, bookingID)
}
