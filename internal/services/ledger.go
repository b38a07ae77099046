package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chachabrian/bikeshare-backend/internal/apperrors"
	"github.com/chachabrian/bikeshare-backend/internal/database"
	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// InventoryLedger owns bike availability and ownership. Booking holds are
// reservation rows taken at confirmation; partner toggles only touch the
// bike's own Availability and can never clear a hold.
type InventoryLedger struct {
	store  database.Store
	logger *logrus.Logger
	now    func() time.Time
}

func NewInventoryLedger(store database.Store, logger *logrus.Logger) *InventoryLedger {
	return &InventoryLedger{store: store, logger: logger, now: time.Now}
}

// AvailabilityUpdate is a partner's manual change to a bike.
type AvailabilityUpdate struct {
	Status  models.AvailabilityStatus `json:"status"`
	Reason  string                    `json:"reason"`
	Blocked []models.DateRange        `json:"blockedDates"`
}

// BikeAvailability is a bike together with the booking holds on it.
type BikeAvailability struct {
	Bike         *models.Bike         `json:"bike"`
	Reservations []models.Reservation `json:"reservations"`
}

// Check reports whether dates are free on bike for a new hold. The hold of
// the booking exclude is ignored.
func (l *InventoryLedger) Check(ctx context.Context, tx database.Store, bike *models.Bike, dates models.DateRange, exclude uint) error {
	if bike.Availability.Status != models.BikeAvailable {
		return fmt.Errorf("bike %d is %s: %w", bike.ID, bike.Availability.Status, apperrors.ErrConflict)
	}
	for _, blocked := range bike.Availability.Blocked {
		if blocked.Overlaps(dates) {
			return fmt.Errorf("bike %d is blocked by its partner: %w", bike.ID, apperrors.ErrConflict)
		}
	}
	return l.checkHolds(ctx, tx, bike.ID, dates, exclude)
}

func (l *InventoryLedger) checkHolds(ctx context.Context, tx database.Store, bikeID uint, dates models.DateRange, exclude uint) error {
	holds, err := tx.ListReservations(ctx, bikeID)
	if err != nil {
		return err
	}
	for _, r := range holds {
		if r.BookingID != exclude && r.Dates.Overlaps(dates) {
			return fmt.Errorf("bike %d is held by booking %d: %w", bikeID, r.BookingID, apperrors.ErrConflict)
		}
	}
	return nil
}

// Reserve places a soft hold for a booking being confirmed. Only holds of
// confirmed or active bookings count; requested bookings never block.
func (l *InventoryLedger) Reserve(ctx context.Context, tx database.Store, booking *models.Booking) error {
	bike, err := tx.LockBike(ctx, booking.BikeID)
	if err != nil {
		return err
	}
	if err := l.Check(ctx, tx, bike, booking.Dates, booking.ID); err != nil {
		return err
	}
	return tx.SaveReservation(ctx, &models.Reservation{
		BikeID:    booking.BikeID,
		BookingID: booking.ID,
		Dates:     booking.Dates,
	})
}

// Finalize re-validates the booking's hold at activation and makes it firm.
// Manual blocks added after confirmation do not override a hold.
func (l *InventoryLedger) Finalize(ctx context.Context, tx database.Store, booking *models.Booking) error {
	if _, err := tx.LockBike(ctx, booking.BikeID); err != nil {
		return err
	}
	hold, err := tx.GetReservation(ctx, booking.ID)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("booking %d has no hold: %w", booking.ID, apperrors.ErrConflict)
	}
	if err != nil {
		return err
	}
	if err := l.checkHolds(ctx, tx, booking.BikeID, hold.Dates, booking.ID); err != nil {
		return err
	}
	hold.Firm = true
	return tx.SaveReservation(ctx, hold)
}

// Release drops the booking's hold, if any.
func (l *InventoryLedger) Release(ctx context.Context, tx database.Store, bookingID uint) error {
	return tx.DeleteReservation(ctx, bookingID)
}

// TransferOwnership hands the bike to partnerID. It only fails when the
// bike does not exist.
func (l *InventoryLedger) TransferOwnership(ctx context.Context, tx database.Store, bikeID, partnerID uint) error {
	if err := tx.UpdateBikePartner(ctx, bikeID, partnerID); err != nil {
		return fmt.Errorf("transfer bike %d: %w", bikeID, err)
	}
	l.logger.WithFields(logrus.Fields{
		"bikeId":    bikeID,
		"partnerId": partnerID,
	}).Info("bike ownership transferred")
	return nil
}

// SetAvailability applies a partner's manual availability change. Writes
// are last-write-wins under the bike row lock.
func (l *InventoryLedger) SetAvailability(ctx context.Context, actor Actor, bikeID uint, update AvailabilityUpdate) (*models.Bike, error) {
	if !update.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown availability status %q", apperrors.ErrInvalidInput, update.Status)
	}
	blocked := make([]models.DateRange, 0, len(update.Blocked))
	for _, r := range update.Blocked {
		nr, err := models.NewDateRange(r.Start, r.End)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
		}
		blocked = append(blocked, nr)
	}

	var bike *models.Bike
	err := l.store.Tx(ctx, func(tx database.Store) error {
		var err error
		bike, err = tx.LockBike(ctx, bikeID)
		if err != nil {
			return err
		}
		if !actor.ActsFor(bike.CurrentPartnerID) {
			return fmt.Errorf("bike %d belongs to another partner: %w", bikeID, apperrors.ErrUnauthorized)
		}
		bike.Availability = models.Availability{
			Status:    update.Status,
			Reason:    update.Reason,
			Blocked:   blocked,
			UpdatedAt: l.now(),
		}
		return tx.UpdateBikeAvailability(ctx, bikeID, bike.Availability)
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"bikeId": bikeID,
		"status": update.Status,
		"blocks": len(blocked),
	}).Info("bike availability updated")
	return bike, nil
}

// Availability returns the bike with its current holds.
func (l *InventoryLedger) Availability(ctx context.Context, bikeID uint) (*BikeAvailability, error) {
	bike, err := l.store.GetBike(ctx, bikeID)
	if err != nil {
		return nil, err
	}
	holds, err := l.store.ListReservations(ctx, bikeID)
	if err != nil {
		return nil, err
	}
	return &BikeAvailability{Bike: bike, Reservations: holds}, nil
}
