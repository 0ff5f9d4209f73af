package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces idempotency keys in Redis.
const DefaultKeyPrefix = "stockflow:idempotency:"

// RedisStore keeps keys in Redis; expiry is left to Redis TTLs.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore creates a RedisStore whose keys live for ttl.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: DefaultKeyPrefix,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Acquire implements Store.
func (s *RedisStore) Acquire(ctx context.Context, req Request) (*Replay, error) {
	now := s.now()
	rec := &Record{
		Key:         req.Key,
		UserID:      req.UserID,
		Operation:   req.Operation,
		Status:      StatusPending,
		RequestHash: req.Hash,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal idempotency record: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.prefix+req.Key, data, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire idempotency key: %w", err)
	}
	if created {
		return nil, nil
	}

	existing, err := s.load(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	replay, reclaim, err := Resolve(existing, req, now)
	if reclaim {
		existing.UpdatedAt = now
		if err := s.save(ctx, existing); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return replay, err
}

// Complete implements Store.
func (s *RedisStore) Complete(ctx context.Context, key string, resp Replay) error {
	return s.finish(ctx, key, StatusSuccess, resp)
}

// Fail implements Store.
func (s *RedisStore) Fail(ctx context.Context, key string, resp Replay) error {
	return s.finish(ctx, key, StatusFailed, resp)
}

// CleanupExpired implements Store. Redis expires keys itself.
func (s *RedisStore) CleanupExpired(context.Context) (int64, error) {
	return 0, nil
}

func (s *RedisStore) finish(ctx context.Context, key string, status Status, resp Replay) error {
	rec, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	rec.Status = status
	rec.Response = resp.Body
	rec.StatusCode = resp.StatusCode
	rec.ContentType = resp.ContentType
	rec.UpdatedAt = s.now()
	return s.save(ctx, rec)
}

func (s *RedisStore) load(ctx context.Context, key string) (*Record, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("idempotency key %s expired", key)
	}
	if err != nil {
		return nil, fmt.Errorf("load idempotency key: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal idempotency record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+rec.Key, data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("save idempotency key: %w", err)
	}
	return nil
}
