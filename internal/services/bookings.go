package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chachabrian/bikeshare-backend/internal/apperrors"
	"github.com/chachabrian/bikeshare-backend/internal/config"
	"github.com/chachabrian/bikeshare-backend/internal/database"
	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/chachabrian/bikeshare-backend/pkg/utils"
	"github.com/sirupsen/logrus"
)

const (
	reasonTimeout     = "no response from partner"
	reasonUnavailable = "bike unavailable for selected dates"
	reasonCancelled   = "booking cancelled"
)

// CreateBookingInput is a rider's booking request.
type CreateBookingInput struct {
	BikeID           uint      `json:"bikeId" binding:"required"`
	StartDate        time.Time `json:"startDate" binding:"required"`
	EndDate          time.Time `json:"endDate" binding:"required"`
	DeliveryAddress  string    `json:"deliveryAddress"`
	DropoffPartnerID uint      `json:"dropoffPartnerId"`
}

// BookingMachine is the single authority over booking status. Every
// transition is one transaction: a compare-and-swap on status, its side
// effects and the domain events it emits commit or roll back together.
type BookingMachine struct {
	store    database.Store
	ledger   *InventoryLedger
	payments *PaymentCoordinator
	events   *EventHub
	cfg      config.Engine
	logger   *logrus.Logger
	now      func() time.Time
}

func NewBookingMachine(store database.Store, ledger *InventoryLedger, payments *PaymentCoordinator, events *EventHub, cfg config.Engine, logger *logrus.Logger) *BookingMachine {
	m := &BookingMachine{
		store:    store,
		ledger:   ledger,
		payments: payments,
		events:   events,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	payments.onSettled = m.paymentSettled
	return m
}

// step is the body of a transition. It returns the events to record.
type step func(tx database.Store, b *models.Booking) ([]models.DomainEvent, error)

func (m *BookingMachine) transition(ctx context.Context, bookingID uint, fn step) (*models.Booking, error) {
	var (
		booking *models.Booking
		emitted []models.DomainEvent
	)
	err := m.store.Tx(ctx, func(tx database.Store) error {
		b, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		events, err := fn(tx, b)
		if err != nil {
			return err
		}
		for i := range events {
			if err := m.events.Record(ctx, tx, &events[i]); err != nil {
				return err
			}
		}
		booking, emitted = b, events
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.events.Dispatch(ctx, emitted)
	return booking, nil
}

// move swaps the booking's status. Anything off the lifecycle graph, or a
// booking that moved underneath, is StaleState.
func (m *BookingMachine) move(ctx context.Context, tx database.Store, b *models.Booking, to models.BookingStatus, reason string) error {
	if !b.Status.CanTransitionTo(to) {
		return fmt.Errorf("booking %d cannot go from %s to %s: %w", b.ID, b.Status, to, apperrors.ErrStaleState)
	}
	at := m.now()
	if err := tx.UpdateBookingStatus(ctx, b.ID, b.Status, to, reason, at); err != nil {
		return err
	}
	m.logger.WithFields(logrus.Fields{
		"bookingId": b.ID,
		"from":      b.Status,
		"to":        to,
	}).Info("booking transition")
	b.Status, b.StatusReason, b.StatusChangedAt = to, reason, at
	return nil
}

func (m *BookingMachine) partnerOwner(ctx context.Context, tx database.Store, partnerID uint) (uint, error) {
	p, err := tx.GetPartner(ctx, partnerID)
	if err != nil {
		return 0, fmt.Errorf("partner %d: %w", partnerID, err)
	}
	return p.OwnerUserID, nil
}

func event(t models.EventType, userID uint, role models.UserRole, payload models.EventPayload) models.DomainEvent {
	return models.DomainEvent{
		Type:           t,
		TargetUserID:   userID,
		TargetUserRole: role,
		Payload:        payload,
	}
}

func statusPayload(b *models.Booking, previous models.BookingStatus) models.EventPayload {
	return models.EventPayload{
		BookingID:      b.ID,
		Status:         b.Status,
		PreviousStatus: previous,
		Reason:         b.StatusReason,
	}
}

// Create records a rider's request. Requested bookings hold nothing: many
// riders may request overlapping dates and the first accepted one wins.
func (m *BookingMachine) Create(ctx context.Context, actor Actor, in CreateBookingInput) (*models.Booking, error) {
	if actor.Role != models.RoleRider {
		return nil, fmt.Errorf("only riders request bookings: %w", apperrors.ErrUnauthorized)
	}
	dates, err := models.NewDateRange(in.StartDate, in.EndDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	if dates.Start.Before(m.now().UTC().Truncate(24 * time.Hour)) {
		return nil, fmt.Errorf("%w: start date is in the past", apperrors.ErrInvalidInput)
	}

	var booking *models.Booking
	var emitted []models.DomainEvent
	err = m.store.Tx(ctx, func(tx database.Store) error {
		bike, err := tx.GetBike(ctx, in.BikeID)
		if err != nil {
			return err
		}
		pickup, err := tx.GetPartner(ctx, bike.CurrentPartnerID)
		if err != nil {
			return err
		}
		if pickup.Status != models.PartnerActive {
			return fmt.Errorf("partner %d is %s: %w", pickup.ID, pickup.Status, apperrors.ErrConflict)
		}
		dropoffID := in.DropoffPartnerID
		if dropoffID == 0 {
			dropoffID = pickup.ID
		}
		if dropoffID != pickup.ID {
			dropoff, err := tx.GetPartner(ctx, dropoffID)
			if errors.Is(err, database.ErrNotFound) {
				return fmt.Errorf("%w: unknown drop-off partner", apperrors.ErrInvalidInput)
			}
			if err != nil {
				return err
			}
			if dropoff.Status != models.PartnerActive {
				return fmt.Errorf("%w: drop-off partner is not active", apperrors.ErrInvalidInput)
			}
		}
		address := strings.TrimSpace(in.DeliveryAddress)
		price, err := utils.BookingPrice(dates, bike, address != "")
		if err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
		}
		if err := m.ledger.Check(ctx, tx, bike, dates, 0); err != nil {
			return err
		}

		booking = &models.Booking{
			RiderID:          actor.UserID,
			BikeID:           bike.ID,
			PickupPartnerID:  pickup.ID,
			DropoffPartnerID: dropoffID,
			Dates:            dates,
			DeliveryAddress:  address,
			TotalPrice:       price.Total,
			Status:           models.BookingRequested,
			StatusChangedAt:  m.now(),
		}
		if err := tx.CreateBooking(ctx, booking); err != nil {
			return err
		}

		payload := statusPayload(booking, "")
		payload.Amount = booking.TotalPrice
		emitted = []models.DomainEvent{event(models.EventBookingCreated, pickup.OwnerUserID, models.RolePartner, payload)}
		return m.events.Record(ctx, tx, &emitted[0])
	})
	if err != nil {
		return nil, err
	}
	m.events.Dispatch(ctx, emitted)

	m.logger.WithFields(logrus.Fields{
		"bookingId": booking.ID,
		"bikeId":    booking.BikeID,
		"riderId":   booking.RiderID,
		"total":     booking.TotalPrice,
	}).Info("booking requested")
	return booking, nil
}

// Accept confirms a requested booking for the pickup partner: it takes the
// hold on the bike and opens the initial payment. The overlap check is done
// here, so the second of two overlapping accepts fails with Conflict and
// that request is rejected.
func (m *BookingMachine) Accept(ctx context.Context, actor Actor, bookingID uint) (*models.Booking, *models.PaymentRequest, error) {
	var initial *models.PaymentRequest
	booking, err := m.transition(ctx, bookingID, func(tx database.Store, b *models.Booking) ([]models.DomainEvent, error) {
		if !actor.ActsFor(b.PickupPartnerID) {
			return nil, fmt.Errorf("booking %d: %w", b.ID, apperrors.ErrUnauthorized)
		}
		prev := b.Status
		if err := m.move(ctx, tx, b, models.BookingConfirmed, ""); err != nil {
			return nil, err
		}
		if err := m.ledger.Reserve(ctx, tx, b); err != nil {
			return nil, err
		}
		var err error
		initial, err = m.payments.OpenInitial(ctx, tx, b)
		if err != nil {
			return nil, err
		}

		payload := statusPayload(b, prev)
		payload.PaymentRequestID = initial.ID
		payload.PaymentKind = initial.Kind
		payload.Amount = initial.Amount
		events := []models.DomainEvent{event(models.EventBookingAccepted, b.RiderID, models.RoleRider, payload)}

		// Competing requests stay requested but their riders learn the
		// dates are gone; the sweep rejects them.
		competing, err := m.competing(ctx, tx, b)
		if err != nil {
			return nil, err
		}
		for _, other := range competing {
			p := statusPayload(&other, "")
			p.Unavailable = true
			p.Reason = reasonUnavailable
			events = append(events, event(models.EventBookingUpdated, other.RiderID, models.RoleRider, p))
		}
		return events, nil
	})
	if errors.Is(err, apperrors.ErrConflict) {
		if _, rerr := m.reject(ctx, bookingID, reasonUnavailable); rerr != nil && !errors.Is(rerr, apperrors.ErrStaleState) {
			m.logger.WithError(rerr).WithField("bookingId", bookingID).Error("failed to reject conflicting booking")
		}
		return nil, nil, err
	}
	if err != nil {
		return nil, nil, err
	}
	return booking, initial, nil
}

// competing lists other requested bookings of the same bike whose dates
// overlap b.
func (m *BookingMachine) competing(ctx context.Context, tx database.Store, b *models.Booking) ([]models.Booking, error) {
	requested, err := tx.ListBookings(ctx, database.BookingFilter{
		BikeID:   b.BikeID,
		Statuses: []models.BookingStatus{models.BookingRequested},
	})
	if err != nil {
		return nil, err
	}
	var out []models.Booking
	for _, other := range requested {
		if other.ID != b.ID && other.Dates.Overlaps(b.Dates) {
			out = append(out, other)
		}
	}
	return out, nil
}

// Reject declines a requested booking on behalf of the pickup partner.
func (m *BookingMachine) Reject(ctx context.Context, actor Actor, bookingID uint, reason string) (*models.Booking, error) {
	return m.transition(ctx, bookingID, func(tx database.Store, b *models.Booking) ([]models.DomainEvent, error) {
		if !actor.ActsFor(b.PickupPartnerID) {
			return nil, fmt.Errorf("booking %d: %w", b.ID, apperrors.ErrUnauthorized)
		}
		return m.rejectStep(ctx, tx, b, reason)
	})
}

func (m *BookingMachine) reject(ctx context.Context, bookingID uint, reason string) (*models.Booking, error) {
	return m.transition(ctx, bookingID, func(tx database.Store, b *models.Booking) ([]models.DomainEvent, error) {
		return m.rejectStep(ctx, tx, b, reason)
	})
}

func (m *BookingMachine) rejectStep(ctx context.Context, tx database.Store, b *models.Booking, reason string) ([]models.DomainEvent, error) {
	prev := b.Status
	if err := m.move(ctx, tx, b, models.BookingRejected, reason); err != nil {
		return nil, err
	}
	return []models.DomainEvent{
		event(models.EventBookingRejected, b.RiderID, models.RoleRider, statusPayload(b, prev)),
	}, nil
}

// Cancel withdraws a booking before it is active. The rider or the pickup
// partner may cancel; in-flight payments are voided and the hold released.
func (m *BookingMachine) Cancel(ctx context.Context, actor Actor, bookingID uint, reason string) (*models.Booking, error) {
	current, err := m.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !m.canCancel(actor, current) {
		return nil, fmt.Errorf("booking %d: %w", current.ID, apperrors.ErrUnauthorized)
	}
	if !current.Status.CanTransitionTo(models.BookingCancelled) {
		return nil, fmt.Errorf("booking %d cannot go from %s to %s: %w", current.ID, current.Status, models.BookingCancelled, apperrors.ErrStaleState)
	}
	// Open card sessions are closed at the gateway first so nothing can be
	// captured for a cancelled booking.
	if err := m.payments.CloseCheckouts(ctx, bookingID, "voided: "+reasonCancelled); err != nil {
		return nil, err
	}

	return m.transition(ctx, bookingID, func(tx database.Store, b *models.Booking) ([]models.DomainEvent, error) {
		if !m.canCancel(actor, b) {
			return nil, fmt.Errorf("booking %d: %w", b.ID, apperrors.ErrUnauthorized)
		}
		if err := openCheckout(ctx, tx, b.ID); err != nil {
			return nil, err
		}
		byRider := actor.Role == models.RoleRider && b.RiderID == actor.UserID
		if reason == "" {
			reason = reasonCancelled
		}
		prev := b.Status
		if err := m.move(ctx, tx, b, models.BookingCancelled, reason); err != nil {
			return nil, err
		}
		if err := m.payments.Void(ctx, tx, b.ID, "voided: "+reasonCancelled); err != nil {
			return nil, err
		}
		if err := m.ledger.Release(ctx, tx, b.ID); err != nil {
			return nil, err
		}

		payload := statusPayload(b, prev)
		if byRider {
			owner, err := m.partnerOwner(ctx, tx, b.PickupPartnerID)
			if err != nil {
				return nil, err
			}
			return []models.DomainEvent{event(models.EventBookingUpdated, owner, models.RolePartner, payload)}, nil
		}
		return []models.DomainEvent{event(models.EventBookingUpdated, b.RiderID, models.RoleRider, payload)}, nil
	})
}

func (m *BookingMachine) canCancel(actor Actor, b *models.Booking) bool {
	byRider := actor.Role == models.RoleRider && b.RiderID == actor.UserID
	return byRider || actor.ActsFor(b.PickupPartnerID)
}

// openCheckout refuses when a card session was started after the booking's
// sessions were closed.
func openCheckout(ctx context.Context, tx database.Store, bookingID uint) error {
	reqs, err := tx.ListPaymentRequests(ctx, bookingID)
	if err != nil {
		return err
	}
	for _, req := range reqs {
		if req.Status == models.PaymentProcessing && req.SessionID != "" {
			return fmt.Errorf("request %d checkout in progress: %w", req.ID, apperrors.ErrStaleState)
		}
	}
	return nil
}

// Activate moves a confirmed booking to active once its initial payment is
// completed, re-validating and firming the bike hold.
func (m *BookingMachine) Activate(ctx context.Context, bookingID uint) (*models.Booking, error) {
	return m.transition(ctx, bookingID, func(tx database.Store, b *models.Booking) ([]models.DomainEvent, error) {
		if b.Status != models.BookingConfirmed {
			return nil, fmt.Errorf("booking %d is %s: %w", b.ID, b.Status, apperrors.ErrStaleState)
		}
		paid, err := completedRequest(ctx, tx, b.ID, models.PaymentInitial)
		if err != nil {
			return nil, err
		}
		if paid == nil {
			return nil, fmt.Errorf("booking %d: %w", b.ID, apperrors.ErrPaymentIncomplete)
		}
		if err := m.ledger.Finalize(ctx, tx, b); err != nil {
			return nil, err
		}
		prev := b.Status
		if err := m.move(ctx, tx, b, models.BookingActive, ""); err != nil {
			return nil, err
		}

		owner, err := m.partnerOwner(ctx, tx, b.PickupPartnerID)
		if err != nil {
			return nil, err
		}
		payload := statusPayload(b, prev)
		payload.PaymentRequestID = paid.ID
		payload.PaymentKind = paid.Kind
		payload.Amount = paid.Amount
		return []models.DomainEvent{
			event(models.EventPaymentCompleted, owner, models.RolePartner, payload),
			event(models.EventPaymentCompleted, b.RiderID, models.RoleRider, payload),
		}, nil
	})
}

// Complete closes an active booking once it has a drop-off assessment and a
// completed remaining payment. The bike passes to the drop-off partner and
// its hold is released.
func (m *BookingMachine) Complete(ctx context.Context, bookingID uint) (*models.Booking, error) {
	return m.transition(ctx, bookingID, func(tx database.Store, b *models.Booking) ([]models.DomainEvent, error) {
		if b.Status != models.BookingActive {
			return nil, fmt.Errorf("booking %d is %s: %w", b.ID, b.Status, apperrors.ErrStaleState)
		}
		if _, err := tx.GetAssessment(ctx, b.ID); errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("booking %d: %w", b.ID, apperrors.ErrAssessmentMissing)
		} else if err != nil {
			return nil, err
		}
		paid, err := completedRequest(ctx, tx, b.ID, models.PaymentRemaining)
		if err != nil {
			return nil, err
		}
		if paid == nil {
			return nil, fmt.Errorf("booking %d: %w", b.ID, apperrors.ErrPaymentIncomplete)
		}

		prev := b.Status
		if err := m.move(ctx, tx, b, models.BookingCompleted, ""); err != nil {
			return nil, err
		}
		if err := m.ledger.TransferOwnership(ctx, tx, b.BikeID, b.DropoffPartnerID); err != nil {
			return nil, err
		}
		if err := m.ledger.Release(ctx, tx, b.ID); err != nil {
			return nil, err
		}

		owner, err := m.partnerOwner(ctx, tx, b.PickupPartnerID)
		if err != nil {
			return nil, err
		}
		payload := statusPayload(b, prev)
		payload.PaymentRequestID = paid.ID
		payload.Amount = paid.Amount
		return []models.DomainEvent{
			event(models.EventBookingCompleted, b.RiderID, models.RoleRider, payload),
			event(models.EventBookingCompleted, owner, models.RolePartner, payload),
		}, nil
	})
}

// CompleteAs lets the drop-off partner retry completion by hand.
func (m *BookingMachine) CompleteAs(ctx context.Context, actor Actor, bookingID uint) (*models.Booking, error) {
	b, err := m.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.ActsFor(b.DropoffPartnerID) && !actor.IsAdmin() {
		return nil, fmt.Errorf("booking %d: %w", bookingID, apperrors.ErrUnauthorized)
	}
	return m.Complete(ctx, bookingID)
}

// paymentSettled drives the booking forward after a payment completes.
func (m *BookingMachine) paymentSettled(ctx context.Context, req *models.PaymentRequest) {
	var err error
	switch req.Kind {
	case models.PaymentInitial:
		_, err = m.Activate(ctx, req.BookingID)
	case models.PaymentRemaining:
		_, err = m.Complete(ctx, req.BookingID)
	}
	if err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"bookingId": req.BookingID,
			"requestId": req.ID,
			"kind":      req.Kind,
		}).Error("booking did not advance after payment")
	}
}

// Get returns a booking the actor may see.
func (m *BookingMachine) Get(ctx context.Context, actor Actor, bookingID uint) (*models.Booking, error) {
	b, err := m.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanView(b) {
		return nil, fmt.Errorf("booking %d: %w", bookingID, apperrors.ErrUnauthorized)
	}
	return b, nil
}

// List returns the bookings visible to the actor under filter. Riders only
// ever see their own bookings.
func (m *BookingMachine) List(ctx context.Context, actor Actor, filter database.BookingFilter) ([]models.Booking, error) {
	switch actor.Role {
	case models.RoleRider:
		filter.RiderID = actor.UserID
	case models.RolePartner:
		if actor.PartnerID == nil {
			return nil, fmt.Errorf("no partner account: %w", apperrors.ErrUnauthorized)
		}
		if filter.PickupPartnerID == 0 && filter.DropoffPartnerID == 0 {
			filter.PickupPartnerID = *actor.PartnerID
		}
		if (filter.PickupPartnerID != 0 && filter.PickupPartnerID != *actor.PartnerID) ||
			(filter.DropoffPartnerID != 0 && filter.DropoffPartnerID != *actor.PartnerID) {
			return nil, apperrors.ErrUnauthorized
		}
	case models.RoleAdmin:
	default:
		return nil, apperrors.ErrUnauthorized
	}
	return m.store.ListBookings(ctx, filter)
}

// SweepExpiredRequests rejects requested bookings that waited longer than
// the configured timeout, and those whose dates are now held by another
// booking. It returns how many were rejected.
func (m *BookingMachine) SweepExpiredRequests(ctx context.Context) (int, error) {
	stale, err := m.store.ListBookings(ctx, database.BookingFilter{
		Statuses:      []models.BookingStatus{models.BookingRequested},
		ChangedBefore: m.now().Add(-m.cfg.RequestTimeout),
	})
	if err != nil {
		return 0, err
	}
	rejected := 0
	swept := make(map[uint]bool, len(stale))
	for _, b := range stale {
		swept[b.ID] = true
		if m.sweepOne(ctx, b.ID, reasonTimeout) {
			rejected++
		}
	}

	requested, err := m.store.ListBookings(ctx, database.BookingFilter{
		Statuses: []models.BookingStatus{models.BookingRequested},
	})
	if err != nil {
		return rejected, err
	}
	holds := make(map[uint][]models.Reservation)
	for _, b := range requested {
		if swept[b.ID] {
			continue
		}
		bikeHolds, ok := holds[b.BikeID]
		if !ok {
			if bikeHolds, err = m.store.ListReservations(ctx, b.BikeID); err != nil {
				return rejected, err
			}
			holds[b.BikeID] = bikeHolds
		}
		for _, h := range bikeHolds {
			if h.BookingID != b.ID && h.Dates.Overlaps(b.Dates) {
				if m.sweepOne(ctx, b.ID, reasonUnavailable) {
					rejected++
				}
				break
			}
		}
	}
	return rejected, nil
}

func (m *BookingMachine) sweepOne(ctx context.Context, bookingID uint, reason string) bool {
	_, err := m.reject(ctx, bookingID, reason)
	if err == nil {
		return true
	}
	// Accepted or cancelled since it was listed.
	if !errors.Is(err, apperrors.ErrStaleState) {
		m.logger.WithError(err).WithField("bookingId", bookingID).Error("sweep failed to reject booking")
	}
	return false
}
