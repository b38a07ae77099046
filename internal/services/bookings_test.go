package services

import (
	"sync"
	"testing"
	"time"

	"github.com/chachabrian/bikeshare-backend/internal/apperrors"
	"github.com/chachabrian/bikeshare-backend/internal/database"
	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/chachabrian/bikeshare-backend/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBooking(t *testing.T) {
	f := newFixture(t)

	b := f.request(t, f.rider, 1, 3)
	assert.Equal(t, models.BookingRequested, b.Status)
	assert.Equal(t, int64(3000), b.TotalPrice)
	assert.Equal(t, f.pickupPartner.ID, b.PickupPartnerID)
	assert.Equal(t, f.dropoffPartner.ID, b.DropoffPartnerID)
	assert.Equal(t, time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC), b.Dates.Start)

	inbox := f.inbox(t, f.pickup)
	require.Len(t, inbox, 1)
	assert.Equal(t, models.EventBookingCreated, inbox[0].Type)
	assert.Equal(t, b.ID, inbox[0].Payload.BookingID)

	// Requests hold nothing.
	holds, err := f.store.ListReservations(f.ctx, f.bike.ID)
	require.NoError(t, err)
	assert.Empty(t, holds)
}

func TestCreateBookingDefaultsAndDelivery(t *testing.T) {
	f := newFixture(t)
	start := base.AddDate(0, 0, 2)

	b, err := f.machine.Create(f.ctx, f.rider, CreateBookingInput{
		BikeID:          f.bike.ID,
		StartDate:       start,
		EndDate:         start.AddDate(0, 0, 3),
		DeliveryAddress: "  12 Harbour Road ",
	})
	require.NoError(t, err)
	assert.Equal(t, f.pickupPartner.ID, b.DropoffPartnerID)
	assert.Equal(t, "12 Harbour Road", b.DeliveryAddress)
	assert.Equal(t, int64(3150), b.TotalPrice)
}

func TestCreateBookingRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	start := base.AddDate(0, 0, 1)

	cases := []struct {
		name  string
		actor Actor
		in    CreateBookingInput
		want  error
	}{
		{
			name:  "partner cannot book",
			actor: f.pickup,
			in:    CreateBookingInput{BikeID: f.bike.ID, StartDate: start, EndDate: start.AddDate(0, 0, 1)},
			want:  apperrors.ErrUnauthorized,
		},
		{
			name:  "end before start",
			actor: f.rider,
			in:    CreateBookingInput{BikeID: f.bike.ID, StartDate: start, EndDate: start.AddDate(0, 0, -1)},
			want:  apperrors.ErrInvalidInput,
		},
		{
			name:  "start in the past",
			actor: f.rider,
			in:    CreateBookingInput{BikeID: f.bike.ID, StartDate: base.AddDate(0, 0, -2), EndDate: base},
			want:  apperrors.ErrInvalidInput,
		},
		{
			name:  "unknown bike",
			actor: f.rider,
			in:    CreateBookingInput{BikeID: 9999, StartDate: start, EndDate: start.AddDate(0, 0, 1)},
			want:  apperrors.ErrNotFound,
		},
		{
			name:  "rental too long",
			actor: f.rider,
			in:    CreateBookingInput{BikeID: f.bike.ID, StartDate: start, EndDate: start.AddDate(0, 0, utils.MaxRentalDays+1)},
			want:  apperrors.ErrInvalidInput,
		},
		{
			name:  "unknown drop-off partner",
			actor: f.rider,
			in:    CreateBookingInput{BikeID: f.bike.ID, StartDate: start, EndDate: start.AddDate(0, 0, 1), DropoffPartnerID: 9999},
			want:  apperrors.ErrInvalidInput,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.machine.Create(f.ctx, tc.actor, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreateBookingRefusesUnavailableBike(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.SetAvailability(f.ctx, f.pickup, f.bike.ID, AvailabilityUpdate{Status: models.BikeMaintenance, Reason: "brakes"})
	require.NoError(t, err)

	start := base.AddDate(0, 0, 1)
	_, err = f.machine.Create(f.ctx, f.rider, CreateBookingInput{BikeID: f.bike.ID, StartDate: start, EndDate: start.AddDate(0, 0, 2)})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestCreateBookingRefusesInactivePartner(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.UpdatePartnerStatus(f.ctx, f.pickupPartner.ID, models.PartnerActive, models.PartnerInactive, "suspended"))

	start := base.AddDate(0, 0, 1)
	_, err := f.machine.Create(f.ctx, f.rider, CreateBookingInput{BikeID: f.bike.ID, StartDate: start, EndDate: start.AddDate(0, 0, 2)})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestAcceptOpensInitialPayment(t *testing.T) {
	f := newFixture(t)
	b := f.request(t, f.rider, 1, 3)

	confirmed, initial := f.accept(t, b.ID)
	assert.Equal(t, models.BookingConfirmed, confirmed.Status)
	assert.Equal(t, models.PaymentInitial, initial.Kind)
	assert.Equal(t, models.PaymentPending, initial.Status)
	assert.Equal(t, int64(600), initial.Amount)
	assert.Equal(t, "usd", initial.Currency)

	hold, err := f.store.GetReservation(f.ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, hold.Firm)
	assert.Equal(t, b.Dates, hold.Dates)

	inbox := f.inbox(t, f.rider)
	require.Len(t, inbox, 1)
	assert.Equal(t, models.EventBookingAccepted, inbox[0].Type)
	assert.Equal(t, initial.ID, inbox[0].Payload.PaymentRequestID)
	assert.Equal(t, models.BookingRequested, inbox[0].Payload.PreviousStatus)
}

func TestAcceptRequiresPickupPartner(t *testing.T) {
	f := newFixture(t)
	b := f.request(t, f.rider, 1, 3)

	for _, actor := range []Actor{f.rider, f.dropoff, f.admin} {
		_, _, err := f.machine.Accept(f.ctx, actor, b.ID)
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	}
	assert.Equal(t, models.BookingRequested, f.booking(t, b.ID).Status)
}

func TestOverlappingAcceptsConflict(t *testing.T) {
	f := newFixture(t)
	a := f.request(t, f.rider, 1, 3)
	b := f.request(t, f.rider2, 2, 3)

	f.accept(t, a.ID)

	// Rider B learns the dates are gone before anyone acts on the request.
	updates := f.inbox(t, f.rider2)
	require.Len(t, updates, 1)
	assert.Equal(t, models.EventBookingUpdated, updates[0].Type)
	assert.True(t, updates[0].Payload.Unavailable)

	_, _, err := f.machine.Accept(f.ctx, f.pickup, b.ID)
	require.ErrorIs(t, err, apperrors.ErrConflict)

	rejected := f.booking(t, b.ID)
	assert.Equal(t, models.BookingRejected, rejected.Status)
	assert.Equal(t, reasonUnavailable, rejected.StatusReason)
	assert.Empty(t, f.requests(t, b.ID))
	assert.Equal(t,
		[]models.EventType{models.EventBookingUpdated, models.EventBookingRejected},
		eventTypes(f.inbox(t, f.rider2)))

	holds, err := f.store.ListReservations(f.ctx, f.bike.ID)
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, a.ID, holds[0].BookingID)
}

// race runs every fn at once and returns their errors in order.
func race(fns ...func() error) []error {
	errs := make([]error, len(fns))
	ready := make(chan struct{})
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func(i int, fn func() error) {
			defer wg.Done()
			<-ready
			errs[i] = fn()
		}(i, fn)
	}
	close(ready)
	wg.Wait()
	return errs
}

func wins(t *testing.T, errs []error) int {
	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, apperrors.ErrStaleState)
	}
	return won
}

func TestConcurrentAcceptsOneWins(t *testing.T) {
	f := newFixture(t)
	b := f.request(t, f.rider, 1, 3)

	accept := func() error {
		_, _, err := f.machine.Accept(f.ctx, f.pickup, b.ID)
		return err
	}
	errs := race(accept, accept, accept, accept)
	assert.Equal(t, 1, wins(t, errs))

	assert.Equal(t, models.BookingConfirmed, f.booking(t, b.ID).Status)
	holds, err := f.store.ListReservations(f.ctx, f.bike.ID)
	require.NoError(t, err)
	assert.Len(t, holds, 1)
	assert.Len(t, f.requests(t, b.ID), 1)
}

func TestConcurrentAcceptAndRejectOneWins(t *testing.T) {
	f := newFixture(t)
	b := f.request(t, f.rider, 1, 3)

	errs := race(
		func() error {
			_, _, err := f.machine.Accept(f.ctx, f.pickup, b.ID)
			return err
		},
		func() error {
			_, err := f.machine.Reject(f.ctx, f.pickup, b.ID, "bike in repair")
			return err
		},
	)
	assert.Equal(t, 1, wins(t, errs))

	holds, err := f.store.ListReservations(f.ctx, f.bike.ID)
	require.NoError(t, err)
	if errs[0] == nil {
		assert.Equal(t, models.BookingConfirmed, f.booking(t, b.ID).Status)
		assert.Len(t, holds, 1)
	} else {
		assert.Equal(t, models.BookingRejected, f.booking(t, b.ID).Status)
		assert.Empty(t, holds)
		assert.Empty(t, f.requests(t, b.ID))
	}
}

func TestConcurrentAcceptAndCancel(t *testing.T) {
	f := newFixture(t)
	b := f.request(t, f.rider, 1, 3)

	errs := race(
		func() error {
			_, _, err := f.machine.Accept(f.ctx, f.pickup, b.ID)
			return err
		},
		func() error {
			_, err := f.machine.Cancel(f.ctx, f.rider, b.ID, "")
			return err
		},
	)
	// A rider may cancel a confirmed booking, so the cancel always lands;
	// the accept only succeeds when it ran first.
	require.NoError(t, errs[1])
	if errs[0] != nil {
		assert.ErrorIs(t, errs[0], apperrors.ErrStaleState)
	}

	assert.Equal(t, models.BookingCancelled, f.booking(t, b.ID).Status)
	holds, err := f.store.ListReservations(f.ctx, f.bike.ID)
	require.NoError(t, err)
	assert.Empty(t, holds)
	for _, req := range f.requests(t, b.ID) {
		assert.False(t, req.Status.InFlight())
	}
}

func TestAdjacentBookingsBothConfirm(t *testing.T) {
	f := newFixture(t)
	a := f.request(t, f.rider, 1, 3)
	b := f.request(t, f.rider2, 4, 2)

	f.accept(t, a.ID)
	confirmed, _ := f.accept(t, b.ID)
	assert.Equal(t, models.BookingConfirmed, confirmed.Status)
}

func TestRejectRequested(t *testing.T) {
	f := newFixture(t)
	b := f.request(t, f.rider, 1, 3)

	rejected, err := f.machine.Reject(f.ctx, f.pickup, b.ID, "bike in repair")
	require.NoError(t, err)
	assert.Equal(t, models.BookingRejected, rejected.Status)
	assert.Equal(t, "bike in repair", rejected.StatusReason)

	inbox := f.inbox(t, f.rider)
	require.Len(t, inbox, 1)
	assert.Equal(t, models.EventBookingRejected, inbox[0].Type)
	assert.Equal(t, "bike in repair", inbox[0].Payload.Reason)
}

func TestInvalidTransitionsAreStale(t *testing.T) {
	f := newFixture(t)
	b := f.active(t)

	_, err := f.machine.Cancel(f.ctx, f.rider, b.ID, "")
	assert.ErrorIs(t, err, apperrors.ErrStaleState)
	_, err = f.machine.Reject(f.ctx, f.pickup, b.ID, "")
	assert.ErrorIs(t, err, apperrors.ErrStaleState)
	_, _, err = f.machine.Accept(f.ctx, f.pickup, b.ID)
	assert.ErrorIs(t, err, apperrors.ErrStaleState)
	_, err = f.machine.Activate(f.ctx, b.ID)
	assert.ErrorIs(t, err, apperrors.ErrStaleState)

	requested := f.request(t, f.rider, 10, 1)
	_, err = f.machine.Complete(f.ctx, requested.ID)
	assert.ErrorIs(t, err, apperrors.ErrStaleState)

	assert.Equal(t, models.BookingActive, f.booking(t, b.ID).Status)
}

func TestCancelConfirmedVoidsPaymentAndReleasesHold(t *testing.T) {
	f := newFixture(t)
	b := f.request(t, f.rider, 1, 3)
	_, initial := f.accept(t, b.ID)

	cancelled, err := f.machine.Cancel(f.ctx, f.rider, b.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, cancelled.Status)
	assert.Equal(t, reasonCancelled, cancelled.StatusReason)

	req, err := f.store.GetPaymentRequest(f.ctx, initial.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, req.Status)
	assert.Equal(t, "voided: booking cancelled", req.FailureReason)

	_, err = f.store.GetReservation(f.ctx, b.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	partnerInbox := f.inbox(t, f.pickup)
	assert.Equal(t, models.EventBookingUpdated, partnerInbox[len(partnerInbox)-1].Type)

	// The dates are free again.
	again := f.request(t, f.rider2, 1, 3)
	f.accept(t, again.ID)
}

func TestCancelByPartnerNotifiesRider(t *testing.T) {
	f := newFixture(t)
	b := f.request(t, f.rider, 1, 3)

	_, err := f.machine.Cancel(f.ctx, f.rider2, b.ID, "")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	_, err = f.machine.Cancel(f.ctx, f.pickup, b.ID, "shop closed")
	require.NoError(t, err)
	inbox := f.inbox(t, f.rider)
	require.NotEmpty(t, inbox)
	last := inbox[len(inbox)-1]
	assert.Equal(t, models.EventBookingUpdated, last.Type)
	assert.Equal(t, "shop closed", last.Payload.Reason)
	assert.Equal(t, models.BookingCancelled, last.Payload.Status)
}

func TestActivateRequiresCompletedInitial(t *testing.T) {
	f := newFixture(t)
	b := f.request(t, f.rider, 1, 3)
	f.accept(t, b.ID)

	_, err := f.machine.Activate(f.ctx, b.ID)
	assert.ErrorIs(t, err, apperrors.ErrPaymentIncomplete)
	assert.Equal(t, models.BookingConfirmed, f.booking(t, b.ID).Status)
}

func TestCashInitialActivatesBooking(t *testing.T) {
	f := newFixture(t)
	b := f.active(t)

	assert.Equal(t, models.BookingActive, b.Status)
	hold, err := f.store.GetReservation(f.ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, hold.Firm)

	assert.Contains(t, eventTypes(f.inbox(t, f.rider)), models.EventPaymentCompleted)
	assert.Contains(t, eventTypes(f.inbox(t, f.pickup)), models.EventPaymentCompleted)
}

func TestCompleteRequiresAssessmentAndPayment(t *testing.T) {
	f := newFixture(t)
	b := f.active(t)

	_, err := f.machine.Complete(f.ctx, b.ID)
	assert.ErrorIs(t, err, apperrors.ErrAssessmentMissing)

	_, err = f.assess.Submit(f.ctx, f.dropoff, b.ID, AssessmentInput{Items: goodCondition()})
	require.NoError(t, err)

	_, err = f.machine.Complete(f.ctx, b.ID)
	assert.ErrorIs(t, err, apperrors.ErrPaymentIncomplete)
	assert.Equal(t, models.BookingActive, f.booking(t, b.ID).Status)
}

func TestFullLifecycleWithCharges(t *testing.T) {
	f := newFixture(t)
	b := f.request(t, f.rider, 1, 3)
	_, initial := f.accept(t, b.ID)
	assert.Equal(t, int64(600), initial.Amount)

	checkout, err := f.payments.BeginCardCheckout(f.ctx, f.rider, initial.ID, models.MethodCard)
	require.NoError(t, err)
	require.NoError(t, f.gw.Complete(checkout.SessionID))
	payload, sig, err := f.gw.Notification(checkout.SessionID)
	require.NoError(t, err)
	require.NoError(t, f.payments.HandleGatewayNotification(f.ctx, payload, sig))
	assert.Equal(t, models.BookingActive, f.booking(t, b.ID).Status)

	_, err = f.assess.Submit(f.ctx, f.dropoff, b.ID, AssessmentInput{
		Items:   goodCondition(),
		Charges: []models.AdditionalCharge{{Type: models.ChargeCleaning, Description: "mud", Amount: 200}},
	})
	require.NoError(t, err)

	remaining, err := f.payments.OpenRemaining(f.ctx, f.dropoff, b.ID, []models.AdditionalCharge{
		{Type: models.ChargeCleaning, Description: "mud", Amount: 200},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2600), remaining.Amount)

	_, err = f.payments.RecordCashSettlement(f.ctx, f.dropoff, remaining.ID)
	require.NoError(t, err)

	done := f.booking(t, b.ID)
	assert.Equal(t, models.BookingCompleted, done.Status)

	bike, err := f.store.GetBike(f.ctx, f.bike.ID)
	require.NoError(t, err)
	assert.Equal(t, f.dropoffPartner.ID, bike.CurrentPartnerID)

	holds, err := f.store.ListReservations(f.ctx, f.bike.ID)
	require.NoError(t, err)
	assert.Empty(t, holds)

	assert.Contains(t, eventTypes(f.inbox(t, f.rider)), models.EventBookingCompleted)
	assert.Contains(t, eventTypes(f.inbox(t, f.pickup)), models.EventBookingCompleted)
}

func TestCompleteAsRetriesByHand(t *testing.T) {
	f := newFixture(t)
	b := f.active(t)
	_, err := f.assess.Submit(f.ctx, f.dropoff, b.ID, AssessmentInput{Items: goodCondition()})
	require.NoError(t, err)
	remaining, err := f.payments.OpenRemaining(f.ctx, f.dropoff, b.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2400), remaining.Amount)

	// Settle without the hook so the booking is left active.
	f.payments.onSettled = nil
	_, err = f.payments.RecordCashSettlement(f.ctx, f.dropoff, remaining.ID)
	require.NoError(t, err)
	require.Equal(t, models.BookingActive, f.booking(t, b.ID).Status)

	_, err = f.machine.CompleteAs(f.ctx, f.pickup, b.ID)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	done, err := f.machine.CompleteAs(f.ctx, f.dropoff, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCompleted, done.Status)
}

func TestSweepRejectsTimedOutRequests(t *testing.T) {
	f := newFixture(t)
	old := f.request(t, f.rider, 1, 3)
	f.clock.Advance(30 * time.Minute)
	fresh := f.request(t, f.rider2, 10, 2)

	f.clock.Advance(45 * time.Minute)
	n, err := f.machine.SweepExpiredRequests(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	swept := f.booking(t, old.ID)
	assert.Equal(t, models.BookingRejected, swept.Status)
	assert.Equal(t, reasonTimeout, swept.StatusReason)
	assert.Equal(t, models.BookingRequested, f.booking(t, fresh.ID).Status)

	// Acting on a swept request reports the change.
	_, _, err = f.machine.Accept(f.ctx, f.pickup, old.ID)
	assert.ErrorIs(t, err, apperrors.ErrStaleState)
}

func TestSweepRejectsRequestsOverlappingHolds(t *testing.T) {
	f := newFixture(t)
	a := f.request(t, f.rider, 1, 3)
	b := f.request(t, f.rider2, 3, 2)
	c := f.request(t, f.rider2, 4, 2)
	f.accept(t, a.ID)

	n, err := f.machine.SweepExpiredRequests(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.BookingRejected, f.booking(t, b.ID).Status)
	assert.Equal(t, models.BookingRequested, f.booking(t, c.ID).Status)
}

func TestGetAndListVisibility(t *testing.T) {
	f := newFixture(t)
	mine := f.request(t, f.rider, 1, 1)
	theirs := f.request(t, f.rider2, 5, 1)

	_, err := f.machine.Get(f.ctx, f.rider, theirs.ID)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	got, err := f.machine.Get(f.ctx, f.dropoff, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, mine.ID, got.ID)

	list, err := f.machine.List(f.ctx, f.rider, database.BookingFilter{RiderID: f.rider2.UserID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	list, err = f.machine.List(f.ctx, f.pickup, database.BookingFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = f.machine.List(f.ctx, f.dropoff, database.BookingFilter{PickupPartnerID: f.pickupPartner.ID})
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	list, err = f.machine.List(f.ctx, f.admin, database.BookingFilter{Statuses: []models.BookingStatus{models.BookingRequested}})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
