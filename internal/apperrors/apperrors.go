// Package apperrors holds the engine's error taxonomy and its mapping to
// HTTP responses. Services wrap these sentinels with fmt.Errorf("...: %w").
package apperrors

import (
	"errors"
	"net/http"
)

var (
	ErrStaleState        = errors.New("stale state")
	ErrConflict          = errors.New("conflict")
	ErrPaymentIncomplete = errors.New("payment incomplete")
	ErrPaymentFailed     = errors.New("payment failed")
	ErrPaymentInFlight   = errors.New("payment already in progress")
	ErrAssessmentMissing = errors.New("assessment missing")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
)

type mapping struct {
	err    error
	status int
	reason string
}

// Order matters: the first sentinel matched by errors.Is wins.
var mappings = []mapping{
	{ErrStaleState, http.StatusConflict, "This booking has changed, please refresh"},
	{ErrConflict, http.StatusConflict, "Bike unavailable for selected dates"},
	{ErrPaymentInFlight, http.StatusConflict, "A payment for this booking is already in progress"},
	{ErrPaymentIncomplete, http.StatusPaymentRequired, "Payment has not been completed"},
	{ErrPaymentFailed, http.StatusPaymentRequired, "Payment failed, please start a new payment"},
	{ErrAssessmentMissing, http.StatusPreconditionFailed, "Drop-off assessment has not been submitted"},
	{ErrUnauthorized, http.StatusForbidden, "You are not allowed to perform this action"},
	{ErrNotFound, http.StatusNotFound, "Not found"},
}

// Status maps err to an HTTP status and a short reason safe to show to users.
// Validation errors keep their own message; everything unknown becomes a
// generic 500 so storage details never leak.
func Status(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}
	for _, m := range mappings {
		if errors.Is(err, m.err) {
			return m.status, m.reason
		}
	}
	if errors.Is(err, ErrInvalidInput) {
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, "Internal error"
}

// Retryable reports whether the actor can fix the situation by refreshing
// or by opening a new payment request.
func Retryable(err error) bool {
	return errors.Is(err, ErrStaleState) ||
		errors.Is(err, ErrPaymentFailed) ||
		errors.Is(err, ErrPaymentIncomplete)
}
