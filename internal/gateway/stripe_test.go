package gateway

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

func newTestStripe(t *testing.T) *Stripe {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s, err := NewStripe(StripeConfig{SecretKey: "sk_test_123", WebhookSecret: "whsec_stripe"}, logger)
	require.NoError(t, err)
	return s
}

func TestNewStripeNeedsKey(t *testing.T) {
	_, err := NewStripe(StripeConfig{}, logrus.New())
	assert.Error(t, err)
}

func TestFromStripeOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		session stripe.CheckoutSession
		want    Outcome
		reason  string
	}{
		{"open", stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusOpen, PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid}, OutcomePending, ""},
		{"paid", stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusComplete, PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid}, OutcomePaid, ""},
		{"complete awaiting async payment", stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusComplete, PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid}, OutcomePending, ""},
		{"expired", stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusExpired, PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid}, OutcomeFailed, "session_expired"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := fromStripe(&tc.session)
			assert.Equal(t, tc.want, got.Outcome)
			assert.Equal(t, tc.reason, got.FailureReason)
		})
	}

	withIntent := fromStripe(&stripe.CheckoutSession{
		ID:            "cs_1",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_1"},
	})
	assert.Equal(t, "pi_1", withIntent.TransactionID)
}

func TestStripeParseNotification(t *testing.T) {
	s := newTestStripe(t)
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.expired","data":{"object":{"id":"cs_9","object":"checkout.session","status":"expired","payment_status":"unpaid"}}}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_stripe"})
	n, err := s.ParseNotification(signed.Payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, "cs_9", n.SessionID)
	assert.Equal(t, OutcomeFailed, n.Outcome)

	_, err = s.ParseNotification(payload, "t=1,v1=forged")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	other := []byte(`{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`)
	signed = webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: other, Secret: "whsec_stripe"})
	_, err = s.ParseNotification(signed.Payload, signed.Header)
	assert.ErrorIs(t, err, ErrIgnoredNotification)
}
