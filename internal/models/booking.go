package models

import (
	"time"

	"gorm.io/gorm"
)

type BookingStatus string

const (
	BookingRequested BookingStatus = "requested"
	BookingConfirmed BookingStatus = "confirmed"
	BookingActive    BookingStatus = "active"
	BookingCompleted BookingStatus = "completed"
	BookingRejected  BookingStatus = "rejected"
	BookingCancelled BookingStatus = "cancelled"
)

// bookingEdges is the whole lifecycle graph. Anything not listed is refused.
var bookingEdges = map[BookingStatus][]BookingStatus{
	BookingRequested: {BookingConfirmed, BookingRejected, BookingCancelled},
	BookingConfirmed: {BookingActive, BookingCancelled},
	BookingActive:    {BookingCompleted},
	BookingCompleted: {},
	BookingRejected:  {},
	BookingCancelled: {},
}

func (s BookingStatus) Valid() bool {
	_, ok := bookingEdges[s]
	return ok
}

// CanTransitionTo reports whether s -> target is an edge of the lifecycle.
func (s BookingStatus) CanTransitionTo(target BookingStatus) bool {
	for _, t := range bookingEdges[s] {
		if t == target {
			return true
		}
	}
	return false
}

func (s BookingStatus) IsTerminal() bool {
	return len(bookingEdges[s]) == 0
}

// HoldsBike reports whether bookings in this status block the bike's dates.
func (s BookingStatus) HoldsBike() bool {
	return s == BookingConfirmed || s == BookingActive
}

type Booking struct {
	gorm.Model
	RiderID          uint          `json:"riderId" gorm:"not null;index"`
	BikeID           uint          `json:"bikeId" gorm:"not null;index"`
	PickupPartnerID  uint          `json:"pickupPartnerId" gorm:"not null;index"`
	DropoffPartnerID uint          `json:"dropoffPartnerId" gorm:"not null;index"`
	Dates            DateRange     `json:"dates" gorm:"embedded"`
	DeliveryAddress  string        `json:"deliveryAddress,omitempty"`
	TotalPrice       int64         `json:"totalPrice" gorm:"not null"`
	Status           BookingStatus `json:"status" gorm:"not null;default:'requested';index"`
	StatusReason     string        `json:"statusReason,omitempty"`
	StatusChangedAt  time.Time     `json:"statusChangedAt"`
}

// TableName specifies the table name
func (Booking) TableName() string {
	return "bookings"
}

// IsParticipant reports whether the user takes part in the booking either
// as the rider or as a member of one of the two partners.
func (b *Booking) IsParticipant(userID uint, partnerID *uint) bool {
	if b.RiderID == userID {
		return true
	}
	if partnerID == nil {
		return false
	}
	return *partnerID == b.PickupPartnerID || *partnerID == b.DropoffPartnerID
}
