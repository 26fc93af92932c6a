// Package redisstore keeps the consumed webhook events set and publishes
// seller notifications on Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
)

const (
	namespace = "ledger"

	// NotificationsChannel carries JSON-encoded domain.Notification values.
	NotificationsChannel = namespace + ":notifications"

	// DefaultEventTTL bounds how long a consumed event id is remembered.
	// Gateways stop redelivering long before this.
	DefaultEventTTL = 30 * 24 * time.Hour
)

// NewClient returns a single-node or cluster client depending on addrs.
func NewClient(addrs []string, password string) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    addrs,
		Password: password,
	})
}

func eventKey(eventID string) string {
	return namespace + ":webhook:consumed:" + eventID
}

// EventStore implements port.WebhookEventStore.
type EventStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewEventStore(client redis.UniversalClient, ttl time.Duration) *EventStore {
	if ttl <= 0 {
		ttl = DefaultEventTTL
	}
	return &EventStore{client: client, ttl: ttl}
}

func (s *EventStore) IsConsumed(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, eventKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking event %s: %w", eventID, err)
	}
	return n > 0, nil
}

func (s *EventStore) MarkConsumed(ctx context.Context, eventID string, at time.Time) error {
	err := s.client.SetNX(ctx, eventKey(eventID), at.UTC().Format(time.RFC3339Nano), s.ttl).Err()
	if err != nil {
		return fmt.Errorf("marking event %s: %w", eventID, err)
	}
	return nil
}

func (s *EventStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Publisher implements port.Notifier over Redis pub/sub. A mailer service
// subscribes to NotificationsChannel.
type Publisher struct {
	client  redis.UniversalClient
	channel string
}

func NewPublisher(client redis.UniversalClient) *Publisher {
	return &Publisher{client: client, channel: NotificationsChannel}
}

func (p *Publisher) Notify(ctx context.Context, n *domain.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}
