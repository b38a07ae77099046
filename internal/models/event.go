package models

import (
	"time"
)

type EventType string

const (
	EventBookingCreated   EventType = "BOOKING_CREATED"
	EventBookingAccepted  EventType = "BOOKING_ACCEPTED"
	EventBookingRejected  EventType = "BOOKING_REJECTED"
	EventBookingUpdated   EventType = "BOOKING_UPDATED"
	EventBookingCompleted EventType = "BOOKING_COMPLETED"
	EventPaymentCompleted EventType = "PAYMENT_COMPLETED"
)

// EventPayload carries the facts of a state change. Fields that do not
// apply to an event type are left empty.
type EventPayload struct {
	BookingID        uint          `json:"bookingId"`
	Status           BookingStatus `json:"status,omitempty"`
	PreviousStatus   BookingStatus `json:"previousStatus,omitempty"`
	Reason           string        `json:"reason,omitempty"`
	PaymentRequestID uint          `json:"paymentRequestId,omitempty"`
	PaymentKind      PaymentKind   `json:"paymentKind,omitempty"`
	Amount           int64         `json:"amount,omitempty"`
	Unavailable      bool          `json:"unavailable,omitempty"`
}

// DomainEvent is written once and never changed except for Processed.
type DomainEvent struct {
	ID             uint         `json:"id" gorm:"primaryKey"`
	Type           EventType    `json:"type" gorm:"not null"`
	TargetUserID   uint         `json:"targetUserId" gorm:"not null;index:idx_events_target"`
	TargetUserRole UserRole     `json:"targetUserRole" gorm:"not null;index:idx_events_target"`
	Payload        EventPayload `json:"payload" gorm:"serializer:json"`
	CreatedAt      time.Time    `json:"createdAt"`
	Processed      bool         `json:"-" gorm:"not null;default:false;index"`
}

// TableName specifies the table name
func (DomainEvent) TableName() string {
	return "domain_events"
}
