// Package gateway talks to the external card payment provider. The engine
// only ever sees checkout sessions: it opens one, polls it, and reconciles
// the provider's signed notifications.
package gateway

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidSignature = errors.New("invalid notification signature")
	ErrUnknownSession   = errors.New("unknown checkout session")
	ErrSessionClosed    = errors.New("checkout session is closed")
	// ErrIgnoredNotification marks provider notifications that carry no
	// checkout outcome.
	ErrIgnoredNotification = errors.New("notification ignored")
)

// SignatureHeaders are the request headers a notification signature is
// read from, in order.
var SignatureHeaders = []string{"Stripe-Signature", "X-Sandbox-Signature"}

type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomePaid    Outcome = "paid"
	OutcomeFailed  Outcome = "failed"
)

type CheckoutRequest struct {
	// Reference identifies the payment request on the engine side.
	Reference      string
	Amount         int64
	Currency       string
	Description    string
	CustomerEmail  string
	IdempotencyKey string
	ExpiresAt      time.Time
}

type Session struct {
	ID            string
	URL           string
	Outcome       Outcome
	TransactionID string
	FailureReason string
}

type Notification struct {
	SessionID     string
	Outcome       Outcome
	TransactionID string
	FailureReason string
}

type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	// ExpireSession closes an open session so it can no longer be paid and
	// returns its final state. A session that already closed, paid or not,
	// is returned as it is.
	ExpireSession(ctx context.Context, sessionID string) (*Session, error)
	// ParseNotification verifies and decodes a provider callback.
	ParseNotification(payload []byte, signature string) (*Notification, error)
}
