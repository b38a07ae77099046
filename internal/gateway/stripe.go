package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// Stripe opens hosted Checkout sessions.
type Stripe struct {
	api    *client.API
	cfg    StripeConfig
	logger *logrus.Logger
}

func NewStripe(cfg StripeConfig, logger *logrus.Logger) (*Stripe, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key is not configured")
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &Stripe{api: api, cfg: cfg, logger: logger}, nil
}

func (s *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(s.cfg.CancelURL),
		ClientReferenceID: stripe.String(req.Reference),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if !req.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
	}
	params.Context = ctx
	params.AddMetadata("payment_request_id", req.Reference)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	cs, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"sessionId": cs.ID,
		"reference": req.Reference,
	}).Info("checkout session created")
	return fromStripe(cs), nil
}

func (s *Stripe) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")
	cs, err := s.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return nil, ErrUnknownSession
		}
		return nil, fmt.Errorf("stripe: get checkout session: %w", err)
	}
	return fromStripe(cs), nil
}

func (s *Stripe) ExpireSession(ctx context.Context, sessionID string) (*Session, error) {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	cs, err := s.api.CheckoutSessions.Expire(sessionID, params)
	if err == nil {
		s.logger.WithField("sessionId", sessionID).Info("checkout session expired")
		return fromStripe(cs), nil
	}

	// Stripe only expires open sessions; anything else reports how it closed.
	current, gerr := s.GetSession(ctx, sessionID)
	if gerr != nil || current.Outcome == OutcomePending {
		return nil, fmt.Errorf("stripe: expire checkout session: %w", err)
	}
	return current, nil
}

func (s *Stripe) ParseNotification(payload []byte, signature string) (*Notification, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch event.Type {
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed",
		"checkout.session.expired":
	default:
		return nil, ErrIgnoredNotification
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return nil, fmt.Errorf("stripe: decode checkout session: %w", err)
	}
	session := fromStripe(&cs)
	if event.Type == "checkout.session.async_payment_failed" {
		session.Outcome = OutcomeFailed
		session.FailureReason = "async_payment_failed"
	}
	return &Notification{
		SessionID:     session.ID,
		Outcome:       session.Outcome,
		TransactionID: session.TransactionID,
		FailureReason: session.FailureReason,
	}, nil
}

func fromStripe(cs *stripe.CheckoutSession) *Session {
	session := &Session{ID: cs.ID, URL: cs.URL, Outcome: OutcomePending}
	if cs.PaymentIntent != nil {
		session.TransactionID = cs.PaymentIntent.ID
	}
	switch {
	case cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		session.Outcome = OutcomePaid
	case cs.Status == stripe.CheckoutSessionStatusExpired:
		session.Outcome = OutcomeFailed
		session.FailureReason = "session_expired"
	}
	return session
}
