package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/chachabrian/bikeshare-backend/internal/database"
	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventSink receives every dispatched batch after the local subscribers.
// Sinks run best effort: their failures are logged and never reach the
// producer of the events.
type EventSink interface {
	Deliver(ctx context.Context, events []models.DomainEvent) error
}

type subscriber struct {
	id      string
	userID  uint
	role    models.UserRole
	deliver func([]models.DomainEvent)
}

// EventHub persists domain events and fans them out to the subscribers of
// the addressed user. Events are written inside the transaction of the
// state change that produced them and dispatched only after it commits.
type EventHub struct {
	store     database.Store
	logger    *logrus.Logger
	batchSize int

	mu    sync.RWMutex
	subs  map[string]*subscriber
	sinks []EventSink
}

func NewEventHub(store database.Store, logger *logrus.Logger, batchSize int) *EventHub {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &EventHub{
		store:     store,
		logger:    logger,
		batchSize: batchSize,
		subs:      make(map[string]*subscriber),
	}
}

func (h *EventHub) AddSink(sink EventSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, sink)
}

// Record persists event through tx. It must run inside the transaction of
// the state change it describes.
func (h *EventHub) Record(ctx context.Context, tx database.Store, event *models.DomainEvent) error {
	if event.Processed {
		return fmt.Errorf("event must be recorded unprocessed")
	}
	if err := tx.CreateEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to record %s event: %w", event.Type, err)
	}
	return nil
}

// Publish persists a single event and dispatches it.
func (h *EventHub) Publish(ctx context.Context, event *models.DomainEvent) error {
	if err := h.Record(ctx, h.store, event); err != nil {
		return err
	}
	h.Dispatch(ctx, []models.DomainEvent{*event})
	return nil
}

// Dispatch hands already persisted events to local subscribers and sinks.
func (h *EventHub) Dispatch(ctx context.Context, events []models.DomainEvent) {
	if len(events) == 0 {
		return
	}
	h.DeliverLocal(events)

	h.mu.RLock()
	sinks := append([]EventSink(nil), h.sinks...)
	h.mu.RUnlock()
	for _, sink := range sinks {
		if err := sink.Deliver(ctx, events); err != nil {
			h.logger.WithError(err).WithField("events", len(events)).Warn("event sink delivery failed")
		}
	}
}

// DeliverLocal hands events to the subscribers connected to this process.
// Each subscriber gets one batch holding only the events addressed to it.
func (h *EventHub) DeliverLocal(events []models.DomainEvent) {
	h.mu.RLock()
	batches := make(map[*subscriber][]models.DomainEvent)
	for _, sub := range h.subs {
		for _, e := range events {
			if e.TargetUserID == sub.userID && e.TargetUserRole == sub.role {
				batches[sub] = append(batches[sub], e)
			}
		}
	}
	h.mu.RUnlock()

	for sub, batch := range batches {
		sub.deliver(batch)
	}
}

// Subscribe registers callback for events addressed to (userID, role) and
// immediately replays the ones not yet marked processed, a batch at a time
// until none are left. Consumers must be
// idempotent by event id: the replay may repeat events seen before.
func (h *EventHub) Subscribe(ctx context.Context, userID uint, role models.UserRole, callback func([]models.DomainEvent)) (string, error) {
	sub := &subscriber{
		id:      uuid.NewString(),
		userID:  userID,
		role:    role,
		deliver: callback,
	}
	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()

	replayed := 0
	var afterID uint
	for {
		pending, err := h.Poll(ctx, userID, role, afterID)
		if err != nil {
			h.Unsubscribe(sub.id)
			return "", err
		}
		if len(pending) == 0 {
			break
		}
		callback(pending)
		replayed += len(pending)
		afterID = pending[len(pending)-1].ID
	}

	h.logger.WithFields(logrus.Fields{
		"subscription": sub.id,
		"userId":       userID,
		"role":         role,
		"replayed":     replayed,
	}).Debug("subscriber registered")
	return sub.id, nil
}

func (h *EventHub) Unsubscribe(subscriptionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, subscriptionID)
}

// Subscribers is the number of live subscriptions on this process.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Poll returns the next batch of unprocessed events for the user after afterID.
func (h *EventHub) Poll(ctx context.Context, userID uint, role models.UserRole, afterID uint) ([]models.DomainEvent, error) {
	return h.store.ListEvents(ctx, database.EventFilter{
		UserID:          userID,
		Role:            role,
		UnprocessedOnly: true,
		AfterID:         afterID,
		Limit:           h.batchSize,
	})
}

// MarkProcessed flags an event of the user as consumed. It is cleanup only;
// an unmarked event is simply delivered again on the next replay.
func (h *EventHub) MarkProcessed(ctx context.Context, userID uint, role models.UserRole, eventID uint) error {
	if eventID == 0 {
		return database.ErrNotFound
	}
	owned, err := h.store.ListEvents(ctx, database.EventFilter{
		UserID:  userID,
		Role:    role,
		AfterID: eventID - 1,
		Limit:   1,
	})
	if err != nil {
		return err
	}
	if len(owned) == 0 || owned[0].ID != eventID {
		return database.ErrNotFound
	}
	return h.store.MarkEventProcessed(ctx, eventID)
}
