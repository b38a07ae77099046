package models

import (
	"time"

	"gorm.io/gorm"
)

type PaymentKind string

const (
	PaymentInitial   PaymentKind = "initial"
	PaymentRemaining PaymentKind = "remaining"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
)

// InFlight reports whether a request of this status still blocks opening
// another request of the same kind.
func (s PaymentStatus) InFlight() bool {
	return s == PaymentPending || s == PaymentProcessing
}

type PaymentMethod string

const (
	MethodCard PaymentMethod = "card"
	MethodCash PaymentMethod = "cash"
)

func (m PaymentMethod) Valid() bool {
	return m == MethodCard || m == MethodCash
}

type PaymentRequest struct {
	gorm.Model
	BookingID     uint               `json:"bookingId" gorm:"not null;index"`
	Kind          PaymentKind        `json:"kind" gorm:"not null"`
	Amount        int64              `json:"amount" gorm:"not null"`
	Currency      string             `json:"currency" gorm:"not null"`
	Charges       []AdditionalCharge `json:"charges,omitempty" gorm:"serializer:json"`
	Status        PaymentStatus      `json:"status" gorm:"not null;default:'pending';index"`
	Method        PaymentMethod      `json:"method,omitempty"`
	SessionID     string             `json:"sessionId,omitempty" gorm:"index"`
	CheckoutURL   string             `json:"checkoutUrl,omitempty"`
	TransactionID string             `json:"transactionId,omitempty"`
	FailureReason string             `json:"failureReason,omitempty"`
	SupersededBy  *uint              `json:"supersededBy,omitempty"`
	SettledBy     *uint              `json:"settledBy,omitempty"`
	CompletedAt   *time.Time         `json:"completedAt,omitempty"`
}

// TableName specifies the table name
func (PaymentRequest) TableName() string {
	return "payment_requests"
}
