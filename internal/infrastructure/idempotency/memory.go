package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps keys in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]*Record
}

// NewMemoryStore creates a MemoryStore whose keys live for ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
		records: make(map[string]*Record),
	}
}

// Acquire implements Store.
func (s *MemoryStore) Acquire(_ context.Context, req Request) (*Replay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[req.Key]
	if ok && now.After(rec.ExpiresAt) {
		ok = false
	}
	if !ok {
		s.records[req.Key] = &Record{
			Key:         req.Key,
			UserID:      req.UserID,
			Operation:   req.Operation,
			Status:      StatusPending,
			RequestHash: req.Hash,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(s.ttl),
		}
		return nil, nil
	}

	replay, reclaim, err := Resolve(rec, req, now)
	if reclaim {
		rec.UpdatedAt = now
	}
	return replay, err
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, key string, resp Replay) error {
	s.finish(key, StatusSuccess, resp)
	return nil
}

// Fail implements Store.
func (s *MemoryStore) Fail(_ context.Context, key string, resp Replay) error {
	s.finish(key, StatusFailed, resp)
	return nil
}

func (s *MemoryStore) finish(key string, status Status, resp Replay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return
	}
	rec.Status = status
	rec.Response = resp.Body
	rec.StatusCode = resp.StatusCode
	rec.ContentType = resp.ContentType
	rec.UpdatedAt = s.now()
}

// CleanupExpired implements Store.
func (s *MemoryStore) CleanupExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var n int64
	for k, rec := range s.records {
		if now.After(rec.ExpiresAt) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}
