package audit

import (
	"context"
	"sync"
)

// MemorySink keeps entries in memory. Used by the in-memory runtime and tests.
type MemorySink struct {
	mu      sync.RWMutex
	entries []Entry
	err     error
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append implements Sink.
func (s *MemorySink) Append(_ context.Context, entries ...Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entries...)
	return nil
}

// FailWith makes subsequent appends fail with err (nil restores normal behavior).
func (s *MemorySink) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Entries returns a copy of all entries.
func (s *MemorySink) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ForEntity returns entries recorded for one entity, oldest first.
func (s *MemorySink) ForEntity(entityType, entityID string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out
}

// History implements Reader.
func (s *MemorySink) History(_ context.Context, entityType, entityID string, limit int) ([]Entry, error) {
	out := s.ForEntity(entityType, entityID)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
