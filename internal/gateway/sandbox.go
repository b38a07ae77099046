package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Sandbox is an in-process gateway for local runs and tests. Sessions stay
// pending until Complete or Fail is called on them.
type Sandbox struct {
	mu       sync.Mutex
	secret   []byte
	baseURL  string
	sessions map[string]*Session
	requests map[string]CheckoutRequest
	byKey    map[string]string

	// CreateErr, when set, makes CreateCheckoutSession fail.
	CreateErr error
	// ExpireErr, when set, makes ExpireSession fail.
	ExpireErr error
}

func NewSandbox(secret, baseURL string) *Sandbox {
	return &Sandbox{
		secret:   []byte(secret),
		baseURL:  baseURL,
		sessions: make(map[string]*Session),
		requests: make(map[string]CheckoutRequest),
		byKey:    make(map[string]string),
	}
}

func (s *Sandbox) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CreateErr != nil {
		return nil, s.CreateErr
	}
	if id, ok := s.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		cp := *s.sessions[id]
		return &cp, nil
	}

	id := "sbx_" + uuid.NewString()
	session := &Session{
		ID:      id,
		URL:     fmt.Sprintf("%s/sandbox/checkout/%s", s.baseURL, id),
		Outcome: OutcomePending,
	}
	s.sessions[id] = session
	s.requests[id] = req
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = id
	}
	cp := *session
	return &cp, nil
}

func (s *Sandbox) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	cp := *session
	return &cp, nil
}

// Request returns what the engine asked for when it opened the session.
func (s *Sandbox) Request(sessionID string) (CheckoutRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[sessionID]
	return req, ok
}

// ExpireSession fails a pending session with reason "session_expired".
func (s *Sandbox) ExpireSession(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ExpireErr != nil {
		return nil, s.ExpireErr
	}
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	if session.Outcome == OutcomePending {
		session.Outcome = OutcomeFailed
		session.FailureReason = "session_expired"
	}
	cp := *session
	return &cp, nil
}

// Complete marks the session paid.
func (s *Sandbox) Complete(sessionID string) error {
	return s.settle(sessionID, OutcomePaid, "")
}

// Fail marks the session failed with reason.
func (s *Sandbox) Fail(sessionID, reason string) error {
	return s.settle(sessionID, OutcomeFailed, reason)
}

func (s *Sandbox) settle(sessionID string, outcome Outcome, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	if session.Outcome != OutcomePending {
		return ErrSessionClosed
	}
	session.Outcome = outcome
	session.FailureReason = reason
	if outcome == OutcomePaid {
		session.TransactionID = "txn_" + uuid.NewString()
	}
	return nil
}

type sandboxNotification struct {
	SessionID     string  `json:"sessionId"`
	Outcome       Outcome `json:"outcome"`
	TransactionID string  `json:"transactionId,omitempty"`
	FailureReason string  `json:"failureReason,omitempty"`
}

// Notification builds a signed callback body for the session's current state.
func (s *Sandbox) Notification(sessionID string) (payload []byte, signature string, err error) {
	session, err := s.GetSession(context.Background(), sessionID)
	if err != nil {
		return nil, "", err
	}
	payload, err = json.Marshal(sandboxNotification{
		SessionID:     session.ID,
		Outcome:       session.Outcome,
		TransactionID: session.TransactionID,
		FailureReason: session.FailureReason,
	})
	if err != nil {
		return nil, "", err
	}
	return payload, s.sign(payload), nil
}

func (s *Sandbox) ParseNotification(payload []byte, signature string) (*Notification, error) {
	if !hmac.Equal([]byte(s.sign(payload)), []byte(signature)) {
		return nil, ErrInvalidSignature
	}
	var n sandboxNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("sandbox: decode notification: %w", err)
	}
	if n.Outcome == OutcomePending {
		return nil, ErrIgnoredNotification
	}
	return &Notification{
		SessionID:     n.SessionID,
		Outcome:       n.Outcome,
		TransactionID: n.TransactionID,
		FailureReason: n.FailureReason,
	}, nil
}

func (s *Sandbox) sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
