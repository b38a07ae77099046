package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chachabrian/bikeshare-backend/internal/apperrors"
	"github.com/chachabrian/bikeshare-backend/internal/config"
	"github.com/chachabrian/bikeshare-backend/internal/database"
	"github.com/chachabrian/bikeshare-backend/internal/gateway"
	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/chachabrian/bikeshare-backend/pkg/utils"
	"github.com/sirupsen/logrus"
)

// CheckoutResult is returned to the rider when a payment is initiated.
type CheckoutResult struct {
	RequestID   uint                 `json:"requestId"`
	Method      models.PaymentMethod `json:"method"`
	SessionID   string               `json:"sessionId,omitempty"`
	CheckoutURL string               `json:"checkoutUrl,omitempty"`
}

// CheckoutStatus is the engine's view of a checkout session.
type CheckoutStatus struct {
	RequestID     uint                 `json:"requestId"`
	Status        models.PaymentStatus `json:"status"`
	TransactionID string               `json:"transactionId,omitempty"`
	FailureReason string               `json:"failureReason,omitempty"`
}

// PaymentCoordinator issues payment requests and drives each one through
// pending -> processing -> completed | failed. Card payments complete
// asynchronously through gateway notifications or bounded polling; cash is
// completed only by the responsible partner.
type PaymentCoordinator struct {
	store   database.Store
	gateway gateway.Gateway
	cfg     config.Engine
	logger  *logrus.Logger
	now     func() time.Time

	// onSettled runs after a request has been committed as completed.
	onSettled func(ctx context.Context, req *models.PaymentRequest)

	baseCtx  context.Context
	watchers sync.WaitGroup
}

func NewPaymentCoordinator(store database.Store, gw gateway.Gateway, cfg config.Engine, logger *logrus.Logger) *PaymentCoordinator {
	return &PaymentCoordinator{
		store:   store,
		gateway: gw,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		baseCtx: context.Background(),
	}
}

// WithContext sets the context background checkout watchers run under.
// Cancelling it stops them.
func (c *PaymentCoordinator) WithContext(ctx context.Context) *PaymentCoordinator {
	c.baseCtx = ctx
	return c
}

// Wait blocks until every background checkout watcher has returned.
func (c *PaymentCoordinator) Wait() {
	c.watchers.Wait()
}

func kindStatus(kind models.PaymentKind) models.BookingStatus {
	if kind == models.PaymentInitial {
		return models.BookingConfirmed
	}
	return models.BookingActive
}

// payer is the partner allowed to confirm cash for a request of kind.
func payer(b *models.Booking, kind models.PaymentKind) uint {
	if kind == models.PaymentInitial {
		return b.PickupPartnerID
	}
	return b.DropoffPartnerID
}

func (c *PaymentCoordinator) inFlight(ctx context.Context, tx database.Store, bookingID uint, kind models.PaymentKind) (*models.PaymentRequest, error) {
	reqs, err := tx.ListPaymentRequests(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	for i := range reqs {
		if reqs[i].Kind == kind && reqs[i].Status.InFlight() {
			return &reqs[i], nil
		}
	}
	return nil, nil
}

// completedRequest returns the completed request of kind for the booking, or nil.
func completedRequest(ctx context.Context, tx database.Store, bookingID uint, kind models.PaymentKind) (*models.PaymentRequest, error) {
	reqs, err := tx.ListPaymentRequests(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	for i := range reqs {
		if reqs[i].Kind == kind && reqs[i].Status == models.PaymentCompleted {
			return &reqs[i], nil
		}
	}
	return nil, nil
}

// OpenInitial issues the initial request for a booking being confirmed.
// It runs inside the accept transaction.
func (c *PaymentCoordinator) OpenInitial(ctx context.Context, tx database.Store, booking *models.Booking) (*models.PaymentRequest, error) {
	if existing, err := c.inFlight(ctx, tx, booking.ID, models.PaymentInitial); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("booking %d: %w", booking.ID, apperrors.ErrPaymentInFlight)
	}
	req := &models.PaymentRequest{
		BookingID: booking.ID,
		Kind:      models.PaymentInitial,
		Amount:    utils.InitialAmount(booking.TotalPrice, c.cfg.InitialPercent),
		Currency:  c.cfg.Currency,
		Status:    models.PaymentPending,
	}
	if err := tx.CreatePaymentRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// OpenRemaining issues the request for the balance plus charges. Only the
// drop-off partner may open it, once the booking is active and assessed.
func (c *PaymentCoordinator) OpenRemaining(ctx context.Context, actor Actor, bookingID uint, charges []models.AdditionalCharge) (*models.PaymentRequest, error) {
	if err := models.ValidateCharges(charges); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}

	var req *models.PaymentRequest
	err := c.store.Tx(ctx, func(tx database.Store) error {
		booking, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !actor.ActsFor(booking.DropoffPartnerID) {
			return fmt.Errorf("only the drop-off partner opens the remaining payment: %w", apperrors.ErrUnauthorized)
		}
		if booking.Status != models.BookingActive {
			return fmt.Errorf("booking %d is %s: %w", booking.ID, booking.Status, apperrors.ErrStaleState)
		}
		if _, err := tx.GetAssessment(ctx, booking.ID); errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("booking %d: %w", booking.ID, apperrors.ErrAssessmentMissing)
		} else if err != nil {
			return err
		}
		if existing, err := c.inFlight(ctx, tx, booking.ID, models.PaymentRemaining); err != nil {
			return err
		} else if existing != nil {
			return fmt.Errorf("booking %d: %w", booking.ID, apperrors.ErrPaymentInFlight)
		}
		if done, err := completedRequest(ctx, tx, booking.ID, models.PaymentRemaining); err != nil {
			return err
		} else if done != nil {
			return fmt.Errorf("booking %d remaining already paid: %w", booking.ID, apperrors.ErrStaleState)
		}

		initial, err := completedRequest(ctx, tx, booking.ID, models.PaymentInitial)
		if err != nil {
			return err
		}
		initialAmount := utils.InitialAmount(booking.TotalPrice, c.cfg.InitialPercent)
		if initial != nil {
			initialAmount = initial.Amount
		}

		amount, err := utils.RemainingAmount(booking.TotalPrice, initialAmount, models.SumCharges(charges))
		if err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
		}

		req = &models.PaymentRequest{
			BookingID: booking.ID,
			Kind:      models.PaymentRemaining,
			Amount:    amount,
			Currency:  c.cfg.Currency,
			Charges:   charges,
			Status:    models.PaymentPending,
		}
		return tx.CreatePaymentRequest(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"bookingId": bookingID,
		"requestId": req.ID,
		"amount":    req.Amount,
	}).Info("remaining payment opened")
	return req, nil
}

// BeginCardCheckout starts paying a pending request. For cash it records the
// rider's choice and waits for the partner; for card it opens a gateway
// session, moves the request to processing and starts a bounded watcher.
func (c *PaymentCoordinator) BeginCardCheckout(ctx context.Context, actor Actor, requestID uint, method models.PaymentMethod) (*CheckoutResult, error) {
	if !method.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", apperrors.ErrInvalidInput, method)
	}

	req, booking, err := c.payable(ctx, c.store, actor, requestID)
	if err != nil {
		return nil, err
	}

	if method == models.MethodCash {
		err := c.store.Tx(ctx, func(tx database.Store) error {
			req, _, err := c.payable(ctx, tx, actor, requestID)
			if err != nil {
				return err
			}
			req.Method = models.MethodCash
			return tx.UpdatePaymentRequest(ctx, req, models.PaymentPending)
		})
		if err != nil {
			return nil, err
		}
		return &CheckoutResult{RequestID: requestID, Method: models.MethodCash}, nil
	}

	// The session is created before the state change; if the swap below
	// loses, the orphaned session simply expires at the gateway.
	session, err := c.gateway.CreateCheckoutSession(ctx, gateway.CheckoutRequest{
		Reference:      strconv.FormatUint(uint64(req.ID), 10),
		Amount:         req.Amount,
		Currency:       req.Currency,
		Description:    fmt.Sprintf("Bike booking #%d (%s payment)", booking.ID, req.Kind),
		IdempotencyKey: fmt.Sprintf("payment-request-%d", req.ID),
		ExpiresAt:      c.now().Add(c.cfg.SessionTTL),
	})
	if err != nil {
		c.logger.WithError(err).WithField("requestId", req.ID).Error("failed to create checkout session")
		return nil, fmt.Errorf("checkout session: %w", apperrors.ErrPaymentFailed)
	}

	err = c.store.Tx(ctx, func(tx database.Store) error {
		req, _, err := c.payable(ctx, tx, actor, requestID)
		if err != nil {
			return err
		}
		req.Status = models.PaymentProcessing
		req.Method = models.MethodCard
		req.SessionID = session.ID
		req.CheckoutURL = session.URL
		return tx.UpdatePaymentRequest(ctx, req, models.PaymentPending)
	})
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"requestId": requestID,
		"sessionId": session.ID,
	}).Info("card checkout started")

	c.watchers.Add(1)
	go func() {
		defer c.watchers.Done()
		c.WatchCheckout(c.baseCtx, session.ID)
	}()

	return &CheckoutResult{
		RequestID:   requestID,
		Method:      models.MethodCard,
		SessionID:   session.ID,
		CheckoutURL: session.URL,
	}, nil
}

// payable loads a request the rider may pay now.
func (c *PaymentCoordinator) payable(ctx context.Context, tx database.Store, actor Actor, requestID uint) (*models.PaymentRequest, *models.Booking, error) {
	req, err := tx.GetPaymentRequest(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	booking, err := tx.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, nil, err
	}
	if actor.Role != models.RoleRider || booking.RiderID != actor.UserID {
		return nil, nil, fmt.Errorf("only the rider pays booking %d: %w", booking.ID, apperrors.ErrUnauthorized)
	}
	if err := requirePending(req); err != nil {
		return nil, nil, err
	}
	if booking.Status != kindStatus(req.Kind) {
		return nil, nil, fmt.Errorf("booking %d is %s: %w", booking.ID, booking.Status, apperrors.ErrStaleState)
	}
	return req, booking, nil
}

func requirePending(req *models.PaymentRequest) error {
	switch req.Status {
	case models.PaymentPending:
		return nil
	case models.PaymentProcessing:
		return fmt.Errorf("request %d: %w", req.ID, apperrors.ErrPaymentInFlight)
	case models.PaymentFailed:
		return fmt.Errorf("request %d: %w", req.ID, apperrors.ErrPaymentFailed)
	default:
		return fmt.Errorf("request %d is %s: %w", req.ID, req.Status, apperrors.ErrStaleState)
	}
}

// RecordCashSettlement completes a pending request on the word of the
// responsible partner: the pickup partner for the initial payment and the
// drop-off partner for the remaining one. Riders can never settle cash.
func (c *PaymentCoordinator) RecordCashSettlement(ctx context.Context, actor Actor, requestID uint) (*models.PaymentRequest, error) {
	var req *models.PaymentRequest
	err := c.store.Tx(ctx, func(tx database.Store) error {
		var err error
		req, err = tx.GetPaymentRequest(ctx, requestID)
		if err != nil {
			return err
		}
		booking, err := tx.GetBooking(ctx, req.BookingID)
		if err != nil {
			return err
		}
		if !actor.ActsFor(payer(booking, req.Kind)) {
			return fmt.Errorf("partner cannot settle request %d: %w", req.ID, apperrors.ErrUnauthorized)
		}
		if err := requirePending(req); err != nil {
			return err
		}
		if booking.Status != kindStatus(req.Kind) {
			return fmt.Errorf("booking %d is %s: %w", booking.ID, booking.Status, apperrors.ErrStaleState)
		}

		now := c.now()
		settledBy := actor.UserID
		req.Status = models.PaymentCompleted
		req.Method = models.MethodCash
		req.SettledBy = &settledBy
		req.CompletedAt = &now
		return tx.UpdatePaymentRequest(ctx, req, models.PaymentPending)
	})
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"requestId": req.ID,
		"bookingId": req.BookingID,
		"kind":      req.Kind,
		"partnerId": *actor.PartnerID,
	}).Info("cash settlement recorded")
	c.settled(ctx, req)
	return req, nil
}

// PollCheckout asks the gateway about a session and applies the outcome.
func (c *PaymentCoordinator) PollCheckout(ctx context.Context, actor Actor, sessionID string) (*CheckoutStatus, error) {
	req, err := c.store.GetPaymentRequestBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	booking, err := c.store.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanView(booking) {
		return nil, fmt.Errorf("session %s: %w", sessionID, apperrors.ErrUnauthorized)
	}
	return c.poll(ctx, sessionID)
}

func (c *PaymentCoordinator) poll(ctx context.Context, sessionID string) (*CheckoutStatus, error) {
	req, err := c.store.GetPaymentRequestBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.PaymentProcessing {
		return statusOf(req), nil
	}

	session, err := c.gateway.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("poll session %s: %w", sessionID, err)
	}
	return c.apply(ctx, &gateway.Notification{
		SessionID:     session.ID,
		Outcome:       session.Outcome,
		TransactionID: session.TransactionID,
		FailureReason: session.FailureReason,
	})
}

func statusOf(req *models.PaymentRequest) *CheckoutStatus {
	return &CheckoutStatus{
		RequestID:     req.ID,
		Status:        req.Status,
		TransactionID: req.TransactionID,
		FailureReason: req.FailureReason,
	}
}

// WatchCheckout polls the session every PollInterval, at most
// PollMaxAttempts times. A session still open after that is expired at the
// gateway first; the request only fails once the gateway confirms the
// session can no longer be paid.
func (c *PaymentCoordinator) WatchCheckout(ctx context.Context, sessionID string) {
	logger := c.logger.WithField("sessionId", sessionID)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= c.cfg.PollMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, err := c.poll(ctx, sessionID)
		if err != nil {
			logger.WithError(err).WithField("attempt", attempt).Warn("checkout poll failed")
			continue
		}
		if status.Status != models.PaymentProcessing {
			return
		}
	}

	session, err := c.gateway.ExpireSession(ctx, sessionID)
	if err != nil {
		// Left processing; a later notification or poll settles it.
		logger.WithError(err).Error("failed to expire checkout session")
		return
	}

	n := &gateway.Notification{
		SessionID:     sessionID,
		Outcome:       session.Outcome,
		TransactionID: session.TransactionID,
		FailureReason: session.FailureReason,
	}
	switch session.Outcome {
	case gateway.OutcomeFailed:
		n.FailureReason = "checkout timed out"
	case gateway.OutcomePending:
		logger.Warn("checkout session still open after expiry")
		return
	}

	status, err := c.apply(ctx, n)
	if err != nil {
		logger.WithError(err).Error("failed to settle expired checkout")
		return
	}
	if status.Status == models.PaymentFailed {
		logger.Warn("checkout expired after polling budget")
	}
}

// HandleGatewayNotification verifies and applies a provider callback.
// Notifications for sessions that already settled are acknowledged and ignored.
func (c *PaymentCoordinator) HandleGatewayNotification(ctx context.Context, payload []byte, signature string) error {
	n, err := c.gateway.ParseNotification(payload, signature)
	if errors.Is(err, gateway.ErrIgnoredNotification) {
		return nil
	}
	if errors.Is(err, gateway.ErrInvalidSignature) {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	if err != nil {
		return err
	}
	_, err = c.apply(ctx, n)
	return err
}

// apply moves a processing request to the gateway's outcome. Applying the
// same outcome twice is a no-op.
func (c *PaymentCoordinator) apply(ctx context.Context, n *gateway.Notification) (*CheckoutStatus, error) {
	var req *models.PaymentRequest
	changed := false
	err := c.store.Tx(ctx, func(tx database.Store) error {
		var err error
		req, err = tx.GetPaymentRequestBySession(ctx, n.SessionID)
		if err != nil {
			return err
		}
		if req.Status != models.PaymentProcessing {
			if n.Outcome == gateway.OutcomePaid && req.Status == models.PaymentFailed {
				c.logger.WithFields(logrus.Fields{
					"requestId": req.ID,
					"sessionId": n.SessionID,
				}).Warn("payment captured for a voided request")
			}
			return nil
		}

		switch n.Outcome {
		case gateway.OutcomePaid:
			now := c.now()
			req.Status = models.PaymentCompleted
			req.TransactionID = n.TransactionID
			req.CompletedAt = &now
		case gateway.OutcomeFailed:
			req.Status = models.PaymentFailed
			req.FailureReason = n.FailureReason
			if req.FailureReason == "" {
				req.FailureReason = "payment failed"
			}
		default:
			return nil
		}
		changed = true
		return tx.UpdatePaymentRequest(ctx, req, models.PaymentProcessing)
	})
	if errors.Is(err, apperrors.ErrStaleState) {
		// Another poller or the webhook got there first.
		latest, err := c.store.GetPaymentRequestBySession(ctx, n.SessionID)
		if err != nil {
			return nil, err
		}
		return statusOf(latest), nil
	}
	if err != nil {
		return nil, err
	}

	if changed {
		c.logger.WithFields(logrus.Fields{
			"requestId": req.ID,
			"sessionId": n.SessionID,
			"status":    req.Status,
		}).Info("checkout settled")
		if req.Status == models.PaymentCompleted {
			c.settled(ctx, req)
		}
	}
	return statusOf(req), nil
}

func (c *PaymentCoordinator) settled(ctx context.Context, req *models.PaymentRequest) {
	if c.onSettled != nil {
		c.onSettled(ctx, req)
	}
}

// Reopen replaces a failed request with a fresh pending one for the same
// amount. The failed request is kept and points at its replacement.
func (c *PaymentCoordinator) Reopen(ctx context.Context, actor Actor, requestID uint) (*models.PaymentRequest, error) {
	var fresh *models.PaymentRequest
	err := c.store.Tx(ctx, func(tx database.Store) error {
		old, err := tx.GetPaymentRequest(ctx, requestID)
		if err != nil {
			return err
		}
		booking, err := tx.GetBooking(ctx, old.BookingID)
		if err != nil {
			return err
		}
		isRider := actor.Role == models.RoleRider && booking.RiderID == actor.UserID
		if !isRider && !actor.ActsFor(payer(booking, old.Kind)) {
			return fmt.Errorf("request %d: %w", old.ID, apperrors.ErrUnauthorized)
		}
		if old.Status != models.PaymentFailed || old.SupersededBy != nil {
			return fmt.Errorf("request %d is %s and cannot be reopened: %w", old.ID, old.Status, apperrors.ErrStaleState)
		}
		if booking.Status != kindStatus(old.Kind) {
			return fmt.Errorf("booking %d is %s: %w", booking.ID, booking.Status, apperrors.ErrStaleState)
		}

		fresh = &models.PaymentRequest{
			BookingID: old.BookingID,
			Kind:      old.Kind,
			Amount:    old.Amount,
			Currency:  old.Currency,
			Charges:   old.Charges,
			Status:    models.PaymentPending,
		}
		if err := tx.CreatePaymentRequest(ctx, fresh); err != nil {
			return err
		}
		old.SupersededBy = &fresh.ID
		return tx.UpdatePaymentRequest(ctx, old, models.PaymentFailed)
	})
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"requestId":  requestID,
		"supersedes": fresh.ID,
	}).Info("payment request reopened")
	return fresh, nil
}

// Void fails every in-flight request of the booking. kinds limits which
// kinds are voided; none means all.
func (c *PaymentCoordinator) Void(ctx context.Context, tx database.Store, bookingID uint, reason string, kinds ...models.PaymentKind) error {
	reqs, err := tx.ListPaymentRequests(ctx, bookingID)
	if err != nil {
		return err
	}
	for i := range reqs {
		req := &reqs[i]
		if !req.Status.InFlight() || !kindIn(req.Kind, kinds) {
			continue
		}
		from := req.Status
		req.Status = models.PaymentFailed
		req.FailureReason = reason
		if err := tx.UpdatePaymentRequest(ctx, req, from); err != nil {
			return err
		}
	}
	return nil
}

// CloseCheckouts expires every open card session of the booking before its
// requests are voided. A session the rider already paid is settled instead
// and reported as ErrStaleState, since the booking moves on rather than
// being cancelled. A session the gateway cannot close blocks the caller.
func (c *PaymentCoordinator) CloseCheckouts(ctx context.Context, bookingID uint, reason string) error {
	reqs, err := c.store.ListPaymentRequests(ctx, bookingID)
	if err != nil {
		return err
	}
	for i := range reqs {
		req := &reqs[i]
		if req.Status != models.PaymentProcessing || req.SessionID == "" {
			continue
		}
		logger := c.logger.WithFields(logrus.Fields{
			"requestId": req.ID,
			"sessionId": req.SessionID,
		})
		session, err := c.gateway.ExpireSession(ctx, req.SessionID)
		if err != nil {
			logger.WithError(err).Error("failed to expire checkout session")
			return fmt.Errorf("close checkout for request %d: %w", req.ID, err)
		}
		n := &gateway.Notification{
			SessionID:     req.SessionID,
			Outcome:       session.Outcome,
			TransactionID: session.TransactionID,
			FailureReason: reason,
		}
		switch session.Outcome {
		case gateway.OutcomePending:
			logger.Warn("checkout session still open after expiry")
			return fmt.Errorf("request %d checkout still open: %w", req.ID, apperrors.ErrStaleState)
		case gateway.OutcomePaid:
			if _, err := c.apply(ctx, n); err != nil {
				return err
			}
			return fmt.Errorf("request %d was paid: %w", req.ID, apperrors.ErrStaleState)
		}
		if _, err := c.apply(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func kindIn(kind models.PaymentKind, kinds []models.PaymentKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Requests lists the booking's payment requests for a participant.
func (c *PaymentCoordinator) Requests(ctx context.Context, actor Actor, bookingID uint) ([]models.PaymentRequest, error) {
	booking, err := c.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanView(booking) {
		return nil, fmt.Errorf("booking %d: %w", bookingID, apperrors.ErrUnauthorized)
	}
	return c.store.ListPaymentRequests(ctx, bookingID)
}
