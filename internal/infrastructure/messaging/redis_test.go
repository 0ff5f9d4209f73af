package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockflow/internal/core/id"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStreamPublisher_Handle(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)
	pub := NewRedisStreamPublisher(client, "", 0)
	require.Equal(t, DefaultStream, pub.Stream())
	require.NoError(t, pub.Ping(ctx))

	m := &Message{
		ID:            id.New(),
		AggregateType: "package",
		AggregateID:   "PKG-1",
		EventType:     "package.packed",
		Payload:       []byte(`{"id":"PKG-1"}`),
		CreatedAt:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.Handle(ctx, m))

	entries, err := client.XRange(ctx, DefaultStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	values := entries[0].Values
	assert.Equal(t, m.ID.String(), values["id"])
	assert.Equal(t, "package.packed", values["event_type"])
	assert.Equal(t, "PKG-1", values["aggregate_id"])
	assert.Equal(t, `{"id":"PKG-1"}`, values["payload"])
}

func TestRedisStreamPublisher_WithRelay(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)
	pub := NewRedisStreamPublisher(client, "test.events", 100)

	src := newFakeSource(msg("order.placed"), msg("package.created"))
	n, err := NewRelay(src, pub).ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	length, err := client.XLen(ctx, "test.events").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 2, length)
}

func TestRedisStreamPublisher_ConnectionError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	err := NewRedisStreamPublisher(client, "", 0).Handle(context.Background(), msg("x"))
	assert.Error(t, err)
}
