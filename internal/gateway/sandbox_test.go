package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandboxSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	sb := NewSandbox("whsec", "http://localhost:8080")

	session, err := sb.CreateCheckoutSession(ctx, CheckoutRequest{Reference: "7", Amount: 3000, Currency: "usd", IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, session.Outcome)
	assert.Contains(t, session.URL, session.ID)

	again, err := sb.CreateCheckoutSession(ctx, CheckoutRequest{Reference: "7", Amount: 3000, Currency: "usd", IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, session.ID, again.ID)

	require.NoError(t, sb.Complete(session.ID))
	got, err := sb.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, got.Outcome)
	assert.NotEmpty(t, got.TransactionID)

	_, err = sb.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestSandboxNotifications(t *testing.T) {
	ctx := context.Background()
	sb := NewSandbox("whsec", "")
	session, err := sb.CreateCheckoutSession(ctx, CheckoutRequest{Reference: "1", Amount: 100, Currency: "usd"})
	require.NoError(t, err)

	payload, sig, err := sb.Notification(session.ID)
	require.NoError(t, err)
	_, err = sb.ParseNotification(payload, sig)
	assert.ErrorIs(t, err, ErrIgnoredNotification)

	require.NoError(t, sb.Fail(session.ID, "card_declined"))
	payload, sig, err = sb.Notification(session.ID)
	require.NoError(t, err)

	n, err := sb.ParseNotification(payload, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, n.Outcome)
	assert.Equal(t, "card_declined", n.FailureReason)

	_, err = sb.ParseNotification(payload, "bad")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestSandboxCreateError(t *testing.T) {
	sb := NewSandbox("", "")
	sb.CreateErr = errors.New("gateway down")
	_, err := sb.CreateCheckoutSession(context.Background(), CheckoutRequest{})
	assert.Error(t, err)
}

func TestSandboxExpireSession(t *testing.T) {
	ctx := context.Background()
	sb := NewSandbox("whsec", "")

	open, err := sb.CreateCheckoutSession(ctx, CheckoutRequest{Reference: "3", Amount: 500, Currency: "usd"})
	require.NoError(t, err)
	expired, err := sb.ExpireSession(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, expired.Outcome)
	assert.Equal(t, "session_expired", expired.FailureReason)

	// an expired session can no longer be paid
	assert.ErrorIs(t, sb.Complete(open.ID), ErrSessionClosed)

	paid, err := sb.CreateCheckoutSession(ctx, CheckoutRequest{Reference: "4", Amount: 500, Currency: "usd"})
	require.NoError(t, err)
	require.NoError(t, sb.Complete(paid.ID))
	got, err := sb.ExpireSession(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, got.Outcome)

	_, err = sb.ExpireSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownSession)
}
