package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chachabrian/bikeshare-backend/internal/models"
)

type memState struct {
	nextID       uint
	users        map[uint]models.User
	partners     map[uint]models.Partner
	bikes        map[uint]models.Bike
	reservations map[uint]models.Reservation // keyed by booking
	bookings     map[uint]models.Booking
	payments     map[uint]models.PaymentRequest
	assessments  map[uint]models.DropoffAssessment // keyed by booking
	events       map[uint]models.DomainEvent
}

func newMemState() *memState {
	return &memState{
		users:        make(map[uint]models.User),
		partners:     make(map[uint]models.Partner),
		bikes:        make(map[uint]models.Bike),
		reservations: make(map[uint]models.Reservation),
		bookings:     make(map[uint]models.Booking),
		payments:     make(map[uint]models.PaymentRequest),
		assessments:  make(map[uint]models.DropoffAssessment),
		events:       make(map[uint]models.DomainEvent),
	}
}

func (m *memState) id() uint {
	m.nextID++
	return m.nextID
}

func (m *memState) clone() *memState {
	c := newMemState()
	c.nextID = m.nextID
	for k, v := range m.users {
		c.users[k] = v
	}
	for k, v := range m.partners {
		c.partners[k] = v
	}
	for k, v := range m.bikes {
		c.bikes[k] = copyBike(v)
	}
	for k, v := range m.reservations {
		c.reservations[k] = v
	}
	for k, v := range m.bookings {
		c.bookings[k] = v
	}
	for k, v := range m.payments {
		c.payments[k] = copyPayment(v)
	}
	for k, v := range m.assessments {
		c.assessments[k] = copyAssessment(v)
	}
	for k, v := range m.events {
		c.events[k] = v
	}
	return c
}

func copyBike(b models.Bike) models.Bike {
	b.Availability.Blocked = append([]models.DateRange(nil), b.Availability.Blocked...)
	return b
}

func copyPayment(p models.PaymentRequest) models.PaymentRequest {
	p.Charges = append([]models.AdditionalCharge(nil), p.Charges...)
	return p
}

func copyAssessment(a models.DropoffAssessment) models.DropoffAssessment {
	a.Items = append([]models.ConditionItem(nil), a.Items...)
	a.Charges = append([]models.AdditionalCharge(nil), a.Charges...)
	a.Photos = append([]string(nil), a.Photos...)
	return a
}

// MemoryStore keeps everything in process. Transactions are serialized
// behind a single mutex and roll back by restoring a snapshot, so it
// honours the same atomicity the postgres store gives. Used by tests and
// by the --memory flag of the api binary.
type MemoryStore struct {
	mu    *sync.Mutex
	state **memState
	inTx  bool
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	st := newMemState()
	return &MemoryStore{mu: &sync.Mutex{}, state: &st, now: time.Now}
}

func (s *MemoryStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) st() *memState {
	return *s.state
}

func (s *MemoryStore) Tx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st().clone()
	tx := &MemoryStore{mu: s.mu, state: s.state, inTx: true, now: s.now}
	if err := fn(tx); err != nil {
		*s.state = snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) stamp(m *models.Booking) {
	now := s.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	defer s.lock()()
	user.ID = s.st().id()
	user.CreatedAt, user.UpdatedAt = s.now(), s.now()
	s.st().users[user.ID] = *user
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id uint) (*models.User, error) {
	defer s.lock()()
	user, ok := s.st().users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (s *MemoryStore) UpdateUserToken(ctx context.Context, id uint, token string) error {
	defer s.lock()()
	user, ok := s.st().users[id]
	if !ok {
		return ErrNotFound
	}
	user.FCMToken = token
	user.UpdatedAt = s.now()
	s.st().users[id] = user
	return nil
}

func (s *MemoryStore) CreatePartner(ctx context.Context, partner *models.Partner) error {
	defer s.lock()()
	partner.ID = s.st().id()
	partner.CreatedAt, partner.UpdatedAt = s.now(), s.now()
	if partner.Status == "" {
		partner.Status = models.PartnerPending
	}
	s.st().partners[partner.ID] = *partner
	return nil
}

func (s *MemoryStore) GetPartner(ctx context.Context, id uint) (*models.Partner, error) {
	defer s.lock()()
	partner, ok := s.st().partners[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &partner, nil
}

func (s *MemoryStore) ListPartners(ctx context.Context, status models.PartnerStatus) ([]models.Partner, error) {
	defer s.lock()()
	var partners []models.Partner
	for _, p := range s.st().partners {
		if status == "" || p.Status == status {
			partners = append(partners, p)
		}
	}
	sort.Slice(partners, func(i, j int) bool { return partners[i].ID < partners[j].ID })
	return partners, nil
}

func (s *MemoryStore) UpdatePartnerStatus(ctx context.Context, id uint, from, to models.PartnerStatus, reason string) error {
	defer s.lock()()
	partner, ok := s.st().partners[id]
	if !ok {
		return ErrNotFound
	}
	if partner.Status != from {
		return ErrStaleWrite
	}
	partner.Status = to
	partner.StatusReason = reason
	partner.UpdatedAt = s.now()
	s.st().partners[id] = partner
	return nil
}

func (s *MemoryStore) CreateBike(ctx context.Context, bike *models.Bike) error {
	defer s.lock()()
	bike.ID = s.st().id()
	bike.CreatedAt, bike.UpdatedAt = s.now(), s.now()
	if bike.Availability.Status == "" {
		bike.Availability.Status = models.BikeAvailable
	}
	s.st().bikes[bike.ID] = copyBike(*bike)
	return nil
}

func (s *MemoryStore) GetBike(ctx context.Context, id uint) (*models.Bike, error) {
	defer s.lock()()
	bike, ok := s.st().bikes[id]
	if !ok {
		return nil, ErrNotFound
	}
	bike = copyBike(bike)
	return &bike, nil
}

// LockBike is a plain read: callers already hold the store mutex inside Tx.
func (s *MemoryStore) LockBike(ctx context.Context, id uint) (*models.Bike, error) {
	return s.GetBike(ctx, id)
}

func (s *MemoryStore) UpdateBikeAvailability(ctx context.Context, id uint, availability models.Availability) error {
	defer s.lock()()
	bike, ok := s.st().bikes[id]
	if !ok {
		return ErrNotFound
	}
	bike.Availability = availability
	bike.UpdatedAt = s.now()
	s.st().bikes[id] = copyBike(bike)
	return nil
}

func (s *MemoryStore) UpdateBikePartner(ctx context.Context, id uint, partnerID uint) error {
	defer s.lock()()
	bike, ok := s.st().bikes[id]
	if !ok {
		return ErrNotFound
	}
	bike.CurrentPartnerID = partnerID
	bike.UpdatedAt = s.now()
	s.st().bikes[id] = bike
	return nil
}

func (s *MemoryStore) ListReservations(ctx context.Context, bikeID uint) ([]models.Reservation, error) {
	defer s.lock()()
	var out []models.Reservation
	for _, r := range s.st().reservations {
		if r.BikeID == bikeID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dates.Start.Before(out[j].Dates.Start) })
	return out, nil
}

func (s *MemoryStore) GetReservation(ctx context.Context, bookingID uint) (*models.Reservation, error) {
	defer s.lock()()
	r, ok := s.st().reservations[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStore) SaveReservation(ctx context.Context, reservation *models.Reservation) error {
	defer s.lock()()
	for _, r := range s.st().reservations {
		if r.BookingID != reservation.BookingID && r.BikeID == reservation.BikeID && r.Dates.Overlaps(reservation.Dates) {
			return ErrOverlap
		}
	}
	if existing, ok := s.st().reservations[reservation.BookingID]; ok {
		reservation.ID = existing.ID
		reservation.CreatedAt = existing.CreatedAt
	} else {
		reservation.ID = s.st().id()
		reservation.CreatedAt = s.now()
	}
	reservation.UpdatedAt = s.now()
	s.st().reservations[reservation.BookingID] = *reservation
	return nil
}

func (s *MemoryStore) DeleteReservation(ctx context.Context, bookingID uint) error {
	defer s.lock()()
	delete(s.st().reservations, bookingID)
	return nil
}

func (s *MemoryStore) CreateBooking(ctx context.Context, booking *models.Booking) error {
	defer s.lock()()
	booking.ID = s.st().id()
	s.stamp(booking)
	if booking.Status == "" {
		booking.Status = models.BookingRequested
	}
	s.st().bookings[booking.ID] = *booking
	return nil
}

func (s *MemoryStore) GetBooking(ctx context.Context, id uint) (*models.Booking, error) {
	defer s.lock()()
	booking, ok := s.st().bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &booking, nil
}

func (s *MemoryStore) ListBookings(ctx context.Context, filter BookingFilter) ([]models.Booking, error) {
	defer s.lock()()
	var out []models.Booking
	for _, b := range s.st().bookings {
		if filter.RiderID != 0 && b.RiderID != filter.RiderID {
			continue
		}
		if filter.PickupPartnerID != 0 && b.PickupPartnerID != filter.PickupPartnerID {
			continue
		}
		if filter.DropoffPartnerID != 0 && b.DropoffPartnerID != filter.DropoffPartnerID {
			continue
		}
		if filter.BikeID != 0 && b.BikeID != filter.BikeID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, b.Status) {
			continue
		}
		if !filter.ChangedBefore.IsZero() && !b.StatusChangedAt.Before(filter.ChangedBefore) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func containsStatus(statuses []models.BookingStatus, s models.BookingStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func (s *MemoryStore) UpdateBookingStatus(ctx context.Context, id uint, from, to models.BookingStatus, reason string, at time.Time) error {
	defer s.lock()()
	booking, ok := s.st().bookings[id]
	if !ok {
		return ErrNotFound
	}
	if booking.Status != from {
		return ErrStaleWrite
	}
	booking.Status = to
	booking.StatusReason = reason
	booking.StatusChangedAt = at
	booking.UpdatedAt = s.now()
	s.st().bookings[id] = booking
	return nil
}

func (s *MemoryStore) CreatePaymentRequest(ctx context.Context, req *models.PaymentRequest) error {
	defer s.lock()()
	if req.Status == "" {
		req.Status = models.PaymentPending
	}
	if req.Status.InFlight() {
		for _, p := range s.st().payments {
			if p.BookingID == req.BookingID && p.Kind == req.Kind && p.Status.InFlight() {
				return ErrDuplicateInFlight
			}
		}
	}
	req.ID = s.st().id()
	req.CreatedAt, req.UpdatedAt = s.now(), s.now()
	s.st().payments[req.ID] = copyPayment(*req)
	return nil
}

func (s *MemoryStore) GetPaymentRequest(ctx context.Context, id uint) (*models.PaymentRequest, error) {
	defer s.lock()()
	req, ok := s.st().payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	req = copyPayment(req)
	return &req, nil
}

func (s *MemoryStore) GetPaymentRequestBySession(ctx context.Context, sessionID string) (*models.PaymentRequest, error) {
	defer s.lock()()
	if sessionID == "" {
		return nil, ErrNotFound
	}
	for _, req := range s.st().payments {
		if req.SessionID == sessionID {
			req = copyPayment(req)
			return &req, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListPaymentRequests(ctx context.Context, bookingID uint) ([]models.PaymentRequest, error) {
	defer s.lock()()
	var out []models.PaymentRequest
	for _, req := range s.st().payments {
		if req.BookingID == bookingID {
			out = append(out, copyPayment(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdatePaymentRequest(ctx context.Context, req *models.PaymentRequest, from models.PaymentStatus) error {
	defer s.lock()()
	stored, ok := s.st().payments[req.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != from {
		return ErrStaleWrite
	}
	stored.Status = req.Status
	stored.Method = req.Method
	stored.SessionID = req.SessionID
	stored.CheckoutURL = req.CheckoutURL
	stored.TransactionID = req.TransactionID
	stored.FailureReason = req.FailureReason
	stored.SupersededBy = req.SupersededBy
	stored.SettledBy = req.SettledBy
	stored.CompletedAt = req.CompletedAt
	stored.UpdatedAt = s.now()
	s.st().payments[req.ID] = stored
	return nil
}

func (s *MemoryStore) SaveAssessment(ctx context.Context, assessment *models.DropoffAssessment) error {
	defer s.lock()()
	if existing, ok := s.st().assessments[assessment.BookingID]; ok {
		assessment.ID = existing.ID
		assessment.CreatedAt = existing.CreatedAt
	} else {
		assessment.ID = s.st().id()
		assessment.CreatedAt = s.now()
	}
	assessment.UpdatedAt = s.now()
	s.st().assessments[assessment.BookingID] = copyAssessment(*assessment)
	return nil
}

func (s *MemoryStore) GetAssessment(ctx context.Context, bookingID uint) (*models.DropoffAssessment, error) {
	defer s.lock()()
	a, ok := s.st().assessments[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	a = copyAssessment(a)
	return &a, nil
}

func (s *MemoryStore) CreateEvent(ctx context.Context, event *models.DomainEvent) error {
	defer s.lock()()
	event.ID = s.st().id()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	s.st().events[event.ID] = *event
	return nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, filter EventFilter) ([]models.DomainEvent, error) {
	defer s.lock()()
	var out []models.DomainEvent
	for _, e := range s.st().events {
		if e.TargetUserID != filter.UserID || e.TargetUserRole != filter.Role {
			continue
		}
		if filter.UnprocessedOnly && e.Processed {
			continue
		}
		if e.ID <= filter.AfterID {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkEventProcessed(ctx context.Context, id uint) error {
	defer s.lock()()
	e, ok := s.st().events[id]
	if !ok {
		return ErrNotFound
	}
	e.Processed = true
	s.st().events[id] = e
	return nil
}
