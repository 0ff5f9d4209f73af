package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockflow/internal/core/apperror"
)

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte(`{"a":1}`))
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint([]byte(`{"a":1}`)))
	assert.NotEqual(t, a, Fingerprint([]byte(`{"a":2}`)))
}

func TestResolve(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	req := Request{Key: "k", UserID: "u", Operation: "POST /x", Hash: "h"}
	base := Record{Key: "k", UserID: "u", Operation: "POST /x", RequestHash: "h", UpdatedAt: now}

	tests := []struct {
		name       string
		mutate     func(r *Record)
		wantReplay bool
		wantClaim  bool
		wantCode   string
	}{
		{name: "success replays", mutate: func(r *Record) { r.Status = StatusSuccess }, wantReplay: true},
		{name: "failure replays", mutate: func(r *Record) { r.Status = StatusFailed }, wantReplay: true},
		{name: "fresh pending conflicts", mutate: func(r *Record) { r.Status = StatusPending }, wantCode: apperror.CodeIdempotency},
		{name: "stale pending reclaims", mutate: func(r *Record) {
			r.Status = StatusPending
			r.UpdatedAt = now.Add(-2 * StaleAfter)
		}, wantClaim: true},
		{name: "different body", mutate: func(r *Record) { r.RequestHash = "other" }, wantCode: apperror.CodeIdempotency},
		{name: "different user", mutate: func(r *Record) { r.UserID = "other" }, wantCode: apperror.CodeIdempotency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := base
			tt.mutate(&rec)
			replay, reclaim, err := Resolve(&rec, req, now)
			assert.Equal(t, tt.wantReplay, replay != nil)
			assert.Equal(t, tt.wantClaim, reclaim)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, apperror.Code(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolve_DefaultsReplayHeaders(t *testing.T) {
	rec := &Record{Key: "k", Status: StatusSuccess, Response: []byte(`{}`)}
	replay, _, err := Resolve(rec, Request{Key: "k"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, replay.StatusCode)
	assert.Equal(t, "application/json", replay.ContentType)
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	req := Request{Key: "key-1", UserID: "U1", Operation: "POST /return/initiate", Hash: Fingerprint([]byte("body"))}

	replay, err := store.Acquire(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, replay, "first caller owns the key")

	_, err = store.Acquire(ctx, req)
	assert.Equal(t, apperror.CodeIdempotency, apperror.Code(err), "in-flight key conflicts")

	resp := Replay{StatusCode: http.StatusCreated, ContentType: "application/json", Body: []byte(`{"message":"ok"}`)}
	require.NoError(t, store.Complete(ctx, req.Key, resp))

	replay, err = store.Acquire(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, replay)
	assert.Equal(t, resp, *replay)

	other := req
	other.Hash = Fingerprint([]byte("different"))
	_, err = store.Acquire(ctx, other)
	assert.Equal(t, apperror.CodeIdempotency, apperror.Code(err))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(time.Hour))
}

func TestMemoryStore_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Minute)
	store.now = func() time.Time { return now }

	_, err := store.Acquire(ctx, Request{Key: "a"})
	require.NoError(t, err)

	n, err := store.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	now = now.Add(2 * time.Minute)
	n, err = store.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, time.Hour)
	exerciseStore(t, store)

	assert.True(t, mr.Exists(DefaultKeyPrefix+"key-1"))
	assert.Equal(t, time.Hour, mr.TTL(DefaultKeyPrefix+"key-1"))
}

func TestRedisStore_Expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := NewRedisStore(client, time.Minute)
	req := Request{Key: "k", UserID: "U1"}

	_, err := store.Acquire(ctx, req)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	replay, err := store.Acquire(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, replay, "expired key can be acquired again")
}
