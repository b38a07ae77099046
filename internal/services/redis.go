package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const eventsChannel = "bikeshare:events"

// NewRedisClient connects to Redis and checks the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

type relayMessage struct {
	Origin string               `json:"origin"`
	Events []models.DomainEvent `json:"events"`
}

// RedisRelay carries dispatched events to the other API instances over
// Redis pub/sub, so a subscriber connected anywhere gets them pushed. It
// also provides the lock that keeps the sweep on a single instance.
type RedisRelay struct {
	client *redis.Client
	hub    *EventHub
	origin string
	logger *logrus.Logger
}

func NewRedisRelay(client *redis.Client, hub *EventHub, logger *logrus.Logger) *RedisRelay {
	return &RedisRelay{
		client: client,
		hub:    hub,
		origin: uuid.NewString(),
		logger: logger,
	}
}

// Deliver publishes events for the other instances.
func (r *RedisRelay) Deliver(ctx context.Context, events []models.DomainEvent) error {
	data, err := json.Marshal(relayMessage{Origin: r.origin, Events: events})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, eventsChannel, string(data)).Err()
}

// Listen hands events published by other instances to local subscribers
// until ctx is done.
func (r *RedisRelay) Listen(ctx context.Context) {
	sub := r.client.Subscribe(ctx, eventsChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := r.receive([]byte(msg.Payload)); err != nil {
				r.logger.WithError(err).Warn("dropping malformed relay message")
			}
		}
	}
}

func (r *RedisRelay) receive(payload []byte) error {
	var msg relayMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	if msg.Origin == r.origin {
		return nil
	}
	r.hub.DeliverLocal(msg.Events)
	return nil
}

// TryLock takes key for ttl if nobody holds it.
func (r *RedisRelay) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, r.origin, ttl).Result()
}
