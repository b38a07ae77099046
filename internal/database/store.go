package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chachabrian/bikeshare-backend/internal/apperrors"
	"github.com/chachabrian/bikeshare-backend/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = fmt.Errorf("record %w", apperrors.ErrNotFound)
	// ErrStaleWrite is returned when a compare-and-swap update finds the
	// row in a different state than the caller expected.
	ErrStaleWrite = fmt.Errorf("row changed underneath: %w", apperrors.ErrStaleState)
	// ErrOverlap is returned when a reservation would overlap another one
	// on the same bike.
	ErrOverlap = fmt.Errorf("overlapping reservation: %w", apperrors.ErrConflict)
	// ErrDuplicateInFlight is returned when a second pending or processing
	// payment request of the same kind is created for a booking.
	ErrDuplicateInFlight = fmt.Errorf("duplicate payment request: %w", apperrors.ErrPaymentInFlight)
)

// IsNotFound is a shorthand for errors.Is(err, ErrNotFound).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

type BookingFilter struct {
	RiderID          uint
	PickupPartnerID  uint
	DropoffPartnerID uint
	BikeID           uint
	Statuses         []models.BookingStatus
	// ChangedBefore keeps only bookings whose status last changed before it.
	ChangedBefore time.Time
	Limit         int
}

type EventFilter struct {
	UserID          uint
	Role            models.UserRole
	UnprocessedOnly bool
	AfterID         uint
	Limit           int
}

// Store is the persistence boundary of the engine. Every status update is
// a compare-and-swap; Tx runs fn atomically and rolls back on error.
type Store interface {
	Tx(ctx context.Context, fn func(tx Store) error) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uint) (*models.User, error)
	UpdateUserToken(ctx context.Context, id uint, token string) error

	CreatePartner(ctx context.Context, partner *models.Partner) error
	GetPartner(ctx context.Context, id uint) (*models.Partner, error)
	ListPartners(ctx context.Context, status models.PartnerStatus) ([]models.Partner, error)
	UpdatePartnerStatus(ctx context.Context, id uint, from, to models.PartnerStatus, reason string) error

	CreateBike(ctx context.Context, bike *models.Bike) error
	GetBike(ctx context.Context, id uint) (*models.Bike, error)
	// LockBike reads the bike and holds a row lock on it until the
	// surrounding transaction ends.
	LockBike(ctx context.Context, id uint) (*models.Bike, error)
	UpdateBikeAvailability(ctx context.Context, id uint, availability models.Availability) error
	UpdateBikePartner(ctx context.Context, id uint, partnerID uint) error

	ListReservations(ctx context.Context, bikeID uint) ([]models.Reservation, error)
	GetReservation(ctx context.Context, bookingID uint) (*models.Reservation, error)
	SaveReservation(ctx context.Context, reservation *models.Reservation) error
	DeleteReservation(ctx context.Context, bookingID uint) error

	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id uint) (*models.Booking, error)
	ListBookings(ctx context.Context, filter BookingFilter) ([]models.Booking, error)
	UpdateBookingStatus(ctx context.Context, id uint, from, to models.BookingStatus, reason string, at time.Time) error

	CreatePaymentRequest(ctx context.Context, req *models.PaymentRequest) error
	GetPaymentRequest(ctx context.Context, id uint) (*models.PaymentRequest, error)
	GetPaymentRequestBySession(ctx context.Context, sessionID string) (*models.PaymentRequest, error)
	ListPaymentRequests(ctx context.Context, bookingID uint) ([]models.PaymentRequest, error)
	// UpdatePaymentRequest writes the mutable fields of req if the stored
	// status still equals from.
	UpdatePaymentRequest(ctx context.Context, req *models.PaymentRequest, from models.PaymentStatus) error

	SaveAssessment(ctx context.Context, assessment *models.DropoffAssessment) error
	GetAssessment(ctx context.Context, bookingID uint) (*models.DropoffAssessment, error)

	CreateEvent(ctx context.Context, event *models.DomainEvent) error
	ListEvents(ctx context.Context, filter EventFilter) ([]models.DomainEvent, error)
	MarkEventProcessed(ctx context.Context, id uint) error
}
