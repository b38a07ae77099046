package database

import (
	"context"
	"errors"
	"time"

	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the postgres-backed Store.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Tx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// constraintError maps the constraint violations that mirror engine
// invariants back onto their domain errors.
func constraintError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == "23P01" && pgErr.ConstraintName == "reservations_no_overlap":
		return ErrOverlap
	case pgErr.Code == "23505" && pgErr.ConstraintName == "payment_requests_one_in_flight":
		return ErrDuplicateInFlight
	}
	return err
}

// swapped turns a conditional update result into ErrNotFound or ErrStaleWrite
// when no row matched.
func (s *GormStore) swapped(ctx context.Context, res *gorm.DB, model interface{}, id uint) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrStaleWrite
}

func (s *GormStore) CreateUser(ctx context.Context, user *models.User) error {
	return s.db.WithContext(ctx).Create(user).Error
}

func (s *GormStore) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *GormStore) UpdateUserToken(ctx context.Context, id uint, token string) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("fcm_token", token)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) CreatePartner(ctx context.Context, partner *models.Partner) error {
	return s.db.WithContext(ctx).Create(partner).Error
}

func (s *GormStore) GetPartner(ctx context.Context, id uint) (*models.Partner, error) {
	var partner models.Partner
	if err := s.db.WithContext(ctx).First(&partner, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &partner, nil
}

func (s *GormStore) ListPartners(ctx context.Context, status models.PartnerStatus) ([]models.Partner, error) {
	var partners []models.Partner
	q := s.db.WithContext(ctx).Order("id ASC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&partners).Error; err != nil {
		return nil, err
	}
	return partners, nil
}

func (s *GormStore) UpdatePartnerStatus(ctx context.Context, id uint, from, to models.PartnerStatus, reason string) error {
	res := s.db.WithContext(ctx).Model(&models.Partner{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{"status": to, "status_reason": reason})
	return s.swapped(ctx, res, &models.Partner{}, id)
}

func (s *GormStore) CreateBike(ctx context.Context, bike *models.Bike) error {
	return s.db.WithContext(ctx).Create(bike).Error
}

func (s *GormStore) GetBike(ctx context.Context, id uint) (*models.Bike, error) {
	var bike models.Bike
	if err := s.db.WithContext(ctx).First(&bike, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &bike, nil
}

func (s *GormStore) LockBike(ctx context.Context, id uint) (*models.Bike, error) {
	var bike models.Bike
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&bike, id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &bike, nil
}

func (s *GormStore) UpdateBikeAvailability(ctx context.Context, id uint, availability models.Availability) error {
	bike := models.Bike{Availability: availability}
	bike.ID = id
	res := s.db.WithContext(ctx).Model(&bike).
		Select("availability_status", "availability_reason", "blocked_dates", "availability_updated_at").
		Updates(&bike)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) UpdateBikePartner(ctx context.Context, id uint, partnerID uint) error {
	res := s.db.WithContext(ctx).Model(&models.Bike{}).Where("id = ?", id).Update("current_partner_id", partnerID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListReservations(ctx context.Context, bikeID uint) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := s.db.WithContext(ctx).
		Where("bike_id = ?", bikeID).
		Order("start_date ASC").
		Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

func (s *GormStore) GetReservation(ctx context.Context, bookingID uint) (*models.Reservation, error) {
	var reservation models.Reservation
	if err := s.db.WithContext(ctx).Where("booking_id = ?", bookingID).First(&reservation).Error; err != nil {
		return nil, notFound(err)
	}
	return &reservation, nil
}

func (s *GormStore) SaveReservation(ctx context.Context, reservation *models.Reservation) error {
	return constraintError(s.db.WithContext(ctx).Save(reservation).Error)
}

func (s *GormStore) DeleteReservation(ctx context.Context, bookingID uint) error {
	return s.db.WithContext(ctx).Unscoped().Where("booking_id = ?", bookingID).Delete(&models.Reservation{}).Error
}

func (s *GormStore) CreateBooking(ctx context.Context, booking *models.Booking) error {
	return s.db.WithContext(ctx).Create(booking).Error
}

func (s *GormStore) GetBooking(ctx context.Context, id uint) (*models.Booking, error) {
	var booking models.Booking
	if err := s.db.WithContext(ctx).First(&booking, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &booking, nil
}

func (s *GormStore) ListBookings(ctx context.Context, filter BookingFilter) ([]models.Booking, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if filter.RiderID != 0 {
		q = q.Where("rider_id = ?", filter.RiderID)
	}
	if filter.PickupPartnerID != 0 {
		q = q.Where("pickup_partner_id = ?", filter.PickupPartnerID)
	}
	if filter.DropoffPartnerID != 0 {
		q = q.Where("dropoff_partner_id = ?", filter.DropoffPartnerID)
	}
	if filter.BikeID != 0 {
		q = q.Where("bike_id = ?", filter.BikeID)
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if !filter.ChangedBefore.IsZero() {
		q = q.Where("status_changed_at < ?", filter.ChangedBefore)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var bookings []models.Booking
	if err := q.Find(&bookings).Error; err != nil {
		return nil, err
	}
	return bookings, nil
}

func (s *GormStore) UpdateBookingStatus(ctx context.Context, id uint, from, to models.BookingStatus, reason string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":            to,
			"status_reason":     reason,
			"status_changed_at": at,
		})
	return s.swapped(ctx, res, &models.Booking{}, id)
}

func (s *GormStore) CreatePaymentRequest(ctx context.Context, req *models.PaymentRequest) error {
	return constraintError(s.db.WithContext(ctx).Create(req).Error)
}

func (s *GormStore) GetPaymentRequest(ctx context.Context, id uint) (*models.PaymentRequest, error) {
	var req models.PaymentRequest
	if err := s.db.WithContext(ctx).First(&req, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

func (s *GormStore) GetPaymentRequestBySession(ctx context.Context, sessionID string) (*models.PaymentRequest, error) {
	var req models.PaymentRequest
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&req).Error; err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

func (s *GormStore) ListPaymentRequests(ctx context.Context, bookingID uint) ([]models.PaymentRequest, error) {
	var reqs []models.PaymentRequest
	if err := s.db.WithContext(ctx).Where("booking_id = ?", bookingID).Order("id ASC").Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

func (s *GormStore) UpdatePaymentRequest(ctx context.Context, req *models.PaymentRequest, from models.PaymentStatus) error {
	res := s.db.WithContext(ctx).Model(&models.PaymentRequest{}).
		Where("id = ? AND status = ?", req.ID, from).
		Updates(map[string]interface{}{
			"status":         req.Status,
			"method":         req.Method,
			"session_id":     req.SessionID,
			"checkout_url":   req.CheckoutURL,
			"transaction_id": req.TransactionID,
			"failure_reason": req.FailureReason,
			"superseded_by":  req.SupersededBy,
			"settled_by":     req.SettledBy,
			"completed_at":   req.CompletedAt,
		})
	return s.swapped(ctx, res, &models.PaymentRequest{}, req.ID)
}

func (s *GormStore) SaveAssessment(ctx context.Context, assessment *models.DropoffAssessment) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "booking_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"assessor_id", "partner_id", "items", "charges", "notes", "photos", "revision", "updated_at"}),
	}).Create(assessment).Error
}

func (s *GormStore) GetAssessment(ctx context.Context, bookingID uint) (*models.DropoffAssessment, error) {
	var assessment models.DropoffAssessment
	if err := s.db.WithContext(ctx).Where("booking_id = ?", bookingID).First(&assessment).Error; err != nil {
		return nil, notFound(err)
	}
	return &assessment, nil
}

func (s *GormStore) CreateEvent(ctx context.Context, event *models.DomainEvent) error {
	return s.db.WithContext(ctx).Create(event).Error
}

func (s *GormStore) ListEvents(ctx context.Context, filter EventFilter) ([]models.DomainEvent, error) {
	q := s.db.WithContext(ctx).
		Where("target_user_id = ? AND target_user_role = ?", filter.UserID, filter.Role).
		Order("id ASC")
	if filter.UnprocessedOnly {
		q = q.Where("processed = ?", false)
	}
	if filter.AfterID != 0 {
		q = q.Where("id > ?", filter.AfterID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var events []models.DomainEvent
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (s *GormStore) MarkEventProcessed(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.DomainEvent{}).Where("id = ?", id).Update("processed", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
