package redisstore

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
)

func TestEventKey(t *testing.T) {
	assert.Equal(t, "ledger:webhook:consumed:evt-1", eventKey("evt-1"))
}

func redisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	return addr
}

func TestEventStore_Redis(t *testing.T) {
	client := NewClient([]string{redisAddr(t)}, os.Getenv("TEST_REDIS_PASSWORD"))
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()

	s := NewEventStore(client, time.Minute)
	require.NoError(t, s.Ping(ctx))

	evt := "evt-" + uuid.NewString()
	consumed, err := s.IsConsumed(ctx, evt)
	require.NoError(t, err)
	assert.False(t, consumed)

	require.NoError(t, s.MarkConsumed(ctx, evt, time.Now()))
	consumed, err = s.IsConsumed(ctx, evt)
	require.NoError(t, err)
	assert.True(t, consumed)

	ttl, err := client.TTL(ctx, eventKey(evt)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestPublisher_Redis(t *testing.T) {
	client := NewClient([]string{redisAddr(t)}, os.Getenv("TEST_REDIS_PASSWORD"))
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()

	sub := client.Subscribe(ctx, NotificationsChannel)
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := NewPublisher(client)
	require.NoError(t, p.Notify(ctx, &domain.Notification{
		Kind: domain.NotifyWithdrawalApproved, AccountID: "seller-1", ReferenceID: "w-1",
	}))

	select {
	case msg := <-sub.Channel():
		var n domain.Notification
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
		assert.Equal(t, domain.NotifyWithdrawalApproved, n.Kind)
		assert.Equal(t, "w-1", n.ReferenceID)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not received")
	}
}
