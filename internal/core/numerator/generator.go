package numerator

import (
	"context"
	"sync"
	"time"
)

// Generator hands out sequential numbers.
type Generator interface {
	// GetNextNumber returns the next number for cfg in period.
	GetNextNumber(ctx context.Context, cfg Config, opts *Options, period time.Time) (string, error)

	// SetNextNumber moves the sequence so the next number is value+1.
	SetNextNumber(ctx context.Context, cfg Config, period time.Time, value int64) error
}

// Memory is a process-local Generator. Strategy is ignored: every number
// comes from the same counter.
type Memory struct {
	mu       sync.Mutex
	counters map[string]int64
}

var _ Generator = (*Memory)(nil)

// NewMemory creates an empty generator.
func NewMemory() *Memory {
	return &Memory{counters: make(map[string]int64)}
}

// GetNextNumber implements Generator.
func (m *Memory) GetNextNumber(_ context.Context, cfg Config, _ *Options, period time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cfg.Key(period)
	m.counters[key]++
	return cfg.Format(period, m.counters[key]), nil
}

// SetNextNumber implements Generator.
func (m *Memory) SetNextNumber(_ context.Context, cfg Config, period time.Time, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[cfg.Key(period)] = value
	return nil
}
