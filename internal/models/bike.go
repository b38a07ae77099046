package models

import (
	"time"

	"gorm.io/gorm"
)

type AvailabilityStatus string

const (
	BikeAvailable   AvailabilityStatus = "available"
	BikeUnavailable AvailabilityStatus = "unavailable"
	BikeMaintenance AvailabilityStatus = "maintenance"
)

func (s AvailabilityStatus) Valid() bool {
	switch s {
	case BikeAvailable, BikeUnavailable, BikeMaintenance:
		return true
	}
	return false
}

// Availability is the partner-controlled part of a bike's availability.
// Booking holds are kept as Reservation rows so that a manual toggle can
// never erase them.
type Availability struct {
	Status    AvailabilityStatus `json:"status" gorm:"column:availability_status;not null;default:'available'"`
	Reason    string             `json:"reason,omitempty" gorm:"column:availability_reason"`
	Blocked   []DateRange        `json:"blockedDates,omitempty" gorm:"column:blocked_dates;serializer:json"`
	UpdatedAt time.Time          `json:"updatedAt" gorm:"column:availability_updated_at"`
}

type Bike struct {
	gorm.Model
	Name             string       `json:"name" gorm:"not null"`
	CurrentPartnerID uint         `json:"currentPartnerId" gorm:"not null;index"`
	Location         string       `json:"location"`
	PricePerDay      int64        `json:"pricePerDay" gorm:"not null"`
	DeliveryFee      int64        `json:"deliveryFee" gorm:"not null;default:0"`
	Availability     Availability `json:"availability" gorm:"embedded"`
}

// TableName specifies the table name
func (Bike) TableName() string {
	return "bikes"
}

// Reservation is a booking's hold on a bike. Soft holds are taken at
// confirmation and become firm once the booking is active.
type Reservation struct {
	gorm.Model
	BikeID    uint      `json:"bikeId" gorm:"not null;index"`
	BookingID uint      `json:"bookingId" gorm:"not null;uniqueIndex"`
	Dates     DateRange `json:"dates" gorm:"embedded"`
	Firm      bool      `json:"firm" gorm:"not null;default:false"`
}

// TableName specifies the table name
func (Reservation) TableName() string {
	return "reservations"
}
