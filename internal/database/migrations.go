package database

import (
	"github.com/chachabrian/bikeshare-backend/internal/models"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Partner{},
		&models.Bike{},
		&models.Reservation{},
		&models.Booking{},
		&models.PaymentRequest{},
		&models.DropoffAssessment{},
		&models.DomainEvent{},
	)
	if err != nil {
		return err
	}

	// Status constraints
	db.Exec(`ALTER TABLE bookings DROP CONSTRAINT IF EXISTS bookings_status_check`)
	if err := db.Exec(`ALTER TABLE bookings ADD CONSTRAINT bookings_status_check
		CHECK (status IN ('requested', 'confirmed', 'active', 'completed', 'rejected', 'cancelled'))`).Error; err != nil {
		return err
	}
	db.Exec(`ALTER TABLE partners DROP CONSTRAINT IF EXISTS partners_status_check`)
	if err := db.Exec(`ALTER TABLE partners ADD CONSTRAINT partners_status_check
		CHECK (status IN ('pending', 'active', 'inactive'))`).Error; err != nil {
		return err
	}

	// At most one pending or processing request per booking and kind.
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS payment_requests_one_in_flight
		ON payment_requests (booking_id, kind)
		WHERE status IN ('pending', 'processing') AND deleted_at IS NULL`).Error; err != nil {
		return err
	}

	// Reservations of the same bike must not overlap. Needs btree_gist; the
	// ledger checks overlaps under a row lock as well, so a database without
	// the extension still keeps the invariant.
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS btree_gist`).Error; err == nil {
		db.Exec(`ALTER TABLE reservations DROP CONSTRAINT IF EXISTS reservations_no_overlap`)
		if err := db.Exec(`ALTER TABLE reservations ADD CONSTRAINT reservations_no_overlap
			EXCLUDE USING gist (bike_id WITH =, tstzrange(start_date, end_date, '[)') WITH &&)`).Error; err != nil {
			return err
		}
	}

	return nil
}
