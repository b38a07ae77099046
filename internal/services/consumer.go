package services

import (
	"sync"

	"github.com/chachabrian/bikeshare-backend/internal/models"
)

// IdempotentConsumer wraps an event handler so that each event id is applied
// at most once, however often it is delivered.
type IdempotentConsumer struct {
	mu     sync.Mutex
	seen   map[uint]struct{}
	handle func(models.DomainEvent)
}

func NewIdempotentConsumer(handle func(models.DomainEvent)) *IdempotentConsumer {
	return &IdempotentConsumer{seen: make(map[uint]struct{}), handle: handle}
}

// Consume applies the events not seen before and returns how many were new.
// Its signature matches the EventHub subscription callback.
func (c *IdempotentConsumer) Consume(events []models.DomainEvent) int {
	applied := 0
	for _, e := range events {
		c.mu.Lock()
		_, dup := c.seen[e.ID]
		if !dup {
			c.seen[e.ID] = struct{}{}
		}
		c.mu.Unlock()
		if dup {
			continue
		}
		c.handle(e)
		applied++
	}
	return applied
}

func (c *IdempotentConsumer) Callback() func([]models.DomainEvent) {
	return func(events []models.DomainEvent) { c.Consume(events) }
}
