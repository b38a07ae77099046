package services

import (
	"math/rand"
	"testing"

	"github.com/chachabrian/bikeshare-backend/internal/apperrors"
	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAvailabilityOwnerOnly(t *testing.T) {
	f := newFixture(t)
	update := AvailabilityUpdate{Status: models.BikeUnavailable, Reason: "winter storage"}

	for _, actor := range []Actor{f.rider, f.dropoff, f.admin} {
		_, err := f.ledger.SetAvailability(f.ctx, actor, f.bike.ID, update)
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	}

	bike, err := f.ledger.SetAvailability(f.ctx, f.pickup, f.bike.ID, update)
	require.NoError(t, err)
	assert.Equal(t, models.BikeUnavailable, bike.Availability.Status)
	assert.Equal(t, base, bike.Availability.UpdatedAt)

	_, err = f.ledger.SetAvailability(f.ctx, f.pickup, f.bike.ID, AvailabilityUpdate{Status: "gone"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestBlockedDatesRefuseBookings(t *testing.T) {
	f := newFixture(t)
	blocked := models.DateRange{Start: base.AddDate(0, 0, 3), End: base.AddDate(0, 0, 5)}
	_, err := f.ledger.SetAvailability(f.ctx, f.pickup, f.bike.ID, AvailabilityUpdate{
		Status:  models.BikeAvailable,
		Blocked: []models.DateRange{blocked},
	})
	require.NoError(t, err)

	start := base.AddDate(0, 0, 4)
	_, err = f.machine.Create(f.ctx, f.rider, CreateBookingInput{BikeID: f.bike.ID, StartDate: start, EndDate: start.AddDate(0, 0, 2)})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	// Outside the block the bike is still bookable.
	f.request(t, f.rider, 6, 2)
}

func TestManualToggleKeepsBookingHolds(t *testing.T) {
	f := newFixture(t)
	b := f.request(t, f.rider, 1, 3)
	f.accept(t, b.ID)

	_, err := f.ledger.SetAvailability(f.ctx, f.pickup, f.bike.ID, AvailabilityUpdate{Status: models.BikeMaintenance})
	require.NoError(t, err)
	_, err = f.ledger.SetAvailability(f.ctx, f.pickup, f.bike.ID, AvailabilityUpdate{Status: models.BikeAvailable})
	require.NoError(t, err)

	view, err := f.ledger.Availability(f.ctx, f.bike.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BikeAvailable, view.Bike.Availability.Status)
	require.Len(t, view.Reservations, 1)
	assert.Equal(t, b.ID, view.Reservations[0].BookingID)

	f.request(t, f.rider2, 8, 1)
	start := base.AddDate(0, 0, 2)
	_, err = f.machine.Create(f.ctx, f.rider2, CreateBookingInput{BikeID: f.bike.ID, StartDate: start, EndDate: start.AddDate(0, 0, 1)})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestBlockAfterConfirmationDoesNotOverrideHold(t *testing.T) {
	f := newFixture(t)
	b := f.request(t, f.rider, 1, 3)
	_, initial := f.accept(t, b.ID)

	_, err := f.ledger.SetAvailability(f.ctx, f.pickup, f.bike.ID, AvailabilityUpdate{
		Status:  models.BikeAvailable,
		Blocked: []models.DateRange{b.Dates},
	})
	require.NoError(t, err)

	_, err = f.payments.RecordCashSettlement(f.ctx, f.pickup, initial.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingActive, f.booking(t, b.ID).Status)
}

// Random request and accept sequences never leave two overlapping holds.
func TestHoldsNeverOverlap(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(42))
	riders := []Actor{f.rider, f.rider2}

	for i := 0; i < 60; i++ {
		start := base.AddDate(0, 0, 1+rng.Intn(30))
		b, err := f.machine.Create(f.ctx, riders[i%2], CreateBookingInput{
			BikeID:    f.bike.ID,
			StartDate: start,
			EndDate:   start.AddDate(0, 0, 1+rng.Intn(4)),
		})
		if err != nil {
			assert.ErrorIs(t, err, apperrors.ErrConflict)
			continue
		}
		if rng.Intn(3) == 0 {
			continue
		}
		_, _, err = f.machine.Accept(f.ctx, f.pickup, b.ID)
		if err != nil {
			assert.ErrorIs(t, err, apperrors.ErrConflict)
			assert.Equal(t, models.BookingRejected, f.booking(t, b.ID).Status)
		}
	}

	holds, err := f.store.ListReservations(f.ctx, f.bike.ID)
	require.NoError(t, err)
	require.NotEmpty(t, holds)
	for i := range holds {
		for j := i + 1; j < len(holds); j++ {
			assert.False(t, holds[i].Dates.Overlaps(holds[j].Dates), "holds %d and %d overlap", holds[i].BookingID, holds[j].BookingID)
		}
	}
}
