package services

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/chachabrian/bikeshare-backend/internal/config"
	"github.com/chachabrian/bikeshare-backend/internal/database"
	"github.com/chachabrian/bikeshare-backend/internal/gateway"
	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	ctx      context.Context
	store    *database.MemoryStore
	gw       *gateway.Sandbox
	events   *EventHub
	ledger   *InventoryLedger
	payments *PaymentCoordinator
	machine  *BookingMachine
	assess   *AssessmentModule
	clock    *fakeClock

	rider   Actor
	rider2  Actor
	pickup  Actor
	dropoff Actor
	admin   Actor

	pickupPartner  *models.Partner
	dropoffPartner *models.Partner
	bike           *models.Bike
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	logger := quietLogger()

	cfg := config.DefaultEngine()
	cfg.InitialPercent = 20
	cfg.RequestTimeout = time.Hour
	// Watchers never tick unless a test shortens this.
	cfg.PollInterval = time.Hour

	store := database.NewMemoryStore()
	gw := gateway.NewSandbox("whsec_test", "http://checkout.test")
	events := NewEventHub(store, logger, 100)
	ledger := NewInventoryLedger(store, logger)
	payments := NewPaymentCoordinator(store, gw, cfg, logger).WithContext(ctx)
	machine := NewBookingMachine(store, ledger, payments, events, cfg, logger)
	assess := NewAssessmentModule(store, payments, events, logger)

	clock := &fakeClock{t: base}
	ledger.now = clock.Now
	payments.now = clock.Now
	machine.now = clock.Now

	t.Cleanup(func() {
		cancel()
		payments.Wait()
	})

	f := &fixture{
		ctx:      ctx,
		store:    store,
		gw:       gw,
		events:   events,
		ledger:   ledger,
		payments: payments,
		machine:  machine,
		assess:   assess,
		clock:    clock,
	}

	f.rider = f.user(t, "rider", models.RoleRider)
	f.rider2 = f.user(t, "rider2", models.RoleRider)
	f.admin = f.user(t, "admin", models.RoleAdmin)
	f.pickup, f.pickupPartner = f.partner(t, "pickup", models.PartnerActive)
	f.dropoff, f.dropoffPartner = f.partner(t, "dropoff", models.PartnerActive)

	f.bike = &models.Bike{
		Name:             "Trek FX 2",
		CurrentPartnerID: f.pickupPartner.ID,
		PricePerDay:      1000,
		DeliveryFee:      150,
	}
	require.NoError(t, store.CreateBike(ctx, f.bike))
	return f
}

func (f *fixture) user(t *testing.T, name string, role models.UserRole) Actor {
	t.Helper()
	u := &models.User{Username: name, Email: name + "@example.com", Role: role}
	require.NoError(t, f.store.CreateUser(f.ctx, u))
	return Actor{UserID: u.ID, Role: role}
}

// partner creates a partner business together with its owning account.
func (f *fixture) partner(t *testing.T, name string, status models.PartnerStatus) (Actor, *models.Partner) {
	t.Helper()
	owner := f.user(t, name, models.RolePartner)
	p := &models.Partner{OwnerUserID: owner.UserID, BusinessName: name + " cycles", Status: status}
	require.NoError(t, f.store.CreatePartner(f.ctx, p))
	owner.PartnerID = &p.ID
	return owner, p
}

// request books f.bike for days days starting startDay days after base.
func (f *fixture) request(t *testing.T, rider Actor, startDay, days int) *models.Booking {
	t.Helper()
	start := base.AddDate(0, 0, startDay)
	b, err := f.machine.Create(f.ctx, rider, CreateBookingInput{
		BikeID:           f.bike.ID,
		StartDate:        start,
		EndDate:          start.AddDate(0, 0, days),
		DropoffPartnerID: f.dropoffPartner.ID,
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) accept(t *testing.T, bookingID uint) (*models.Booking, *models.PaymentRequest) {
	t.Helper()
	b, req, err := f.machine.Accept(f.ctx, f.pickup, bookingID)
	require.NoError(t, err)
	return b, req
}

// active walks a three day booking through acceptance and a cash initial payment.
func (f *fixture) active(t *testing.T) *models.Booking {
	t.Helper()
	b := f.request(t, f.rider, 1, 3)
	_, initial := f.accept(t, b.ID)
	_, err := f.payments.RecordCashSettlement(f.ctx, f.pickup, initial.ID)
	require.NoError(t, err)
	return f.booking(t, b.ID)
}

func (f *fixture) booking(t *testing.T, id uint) *models.Booking {
	t.Helper()
	b, err := f.store.GetBooking(f.ctx, id)
	require.NoError(t, err)
	return b
}

func (f *fixture) requests(t *testing.T, bookingID uint) []models.PaymentRequest {
	t.Helper()
	reqs, err := f.store.ListPaymentRequests(f.ctx, bookingID)
	require.NoError(t, err)
	return reqs
}

func (f *fixture) inbox(t *testing.T, actor Actor) []models.DomainEvent {
	t.Helper()
	events, err := f.store.ListEvents(f.ctx, database.EventFilter{UserID: actor.UserID, Role: actor.Role})
	require.NoError(t, err)
	return events
}

func goodCondition() []models.ConditionItem {
	items := make([]models.ConditionItem, 0, len(models.Checklist))
	for _, part := range models.Checklist {
		items = append(items, models.ConditionItem{Part: part, Rating: models.RatingGood})
	}
	return items
}

func eventTypes(events []models.DomainEvent) []models.EventType {
	out := make([]models.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}
