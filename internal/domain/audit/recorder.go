// Package audit records one immutable entry per fulfillment state transition.
//
// Recording is best-effort: the primary transition is already committed when
// Record runs, so sink failures are logged and counted, never returned.
package audit

import (
	"context"
	"time"

	appctx "stockflow/internal/core/context"
	"stockflow/internal/core/id"
	"stockflow/pkg/logger"
)

// Entity types.
const (
	EntityBatch     = "batch"
	EntityItem      = "item"
	EntityPackage   = "package"
	EntityTransport = "transport"
	EntityReturn    = "return"
	EntityOrder     = "order"
)

// Entry is a single audit record.
type Entry struct {
	ID         id.ID
	UserID     string
	Action     string
	EntityType string
	EntityID   string
	Value      any
	Details    map[string]any
	Timestamp  time.Time
}

// Sink is the append-only audit store.
type Sink interface {
	Append(ctx context.Context, entries ...Entry) error
}

// Reader returns the recorded history of one entity, oldest first.
type Reader interface {
	History(ctx context.Context, entityType, entityID string, limit int) ([]Entry, error)
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithObserver registers a callback invoked for every recorded entry,
// whether or not the sink accepts it.
func WithObserver(fn func(Entry)) Option {
	return func(r *Recorder) { r.observers = append(r.observers, fn) }
}

// WithFailureHook registers a callback invoked when the sink rejects entries.
func WithFailureHook(fn func(err error, entries []Entry)) Option {
	return func(r *Recorder) { r.onFailure = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// Recorder fills in actor and timestamp and forwards entries to the sink.
type Recorder struct {
	sink      Sink
	observers []func(Entry)
	onFailure func(err error, entries []Entry)
	now       func() time.Time
}

// NewRecorder creates a Recorder writing to sink.
func NewRecorder(sink Sink, opts ...Option) *Recorder {
	r := &Recorder{
		sink: sink,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends entries. It never fails the caller.
func (r *Recorder) Record(ctx context.Context, entries ...Entry) {
	if r == nil || len(entries) == 0 {
		return
	}

	actor := appctx.Actor(ctx)
	correlation := appctx.GetCorrelation(ctx).AuditDetails()
	for i := range entries {
		if id.IsNil(entries[i].ID) {
			entries[i].ID = id.New()
		}
		if entries[i].Timestamp.IsZero() {
			entries[i].Timestamp = r.now()
		}
		if entries[i].UserID == "" {
			entries[i].UserID = actor
		}
		for k, v := range correlation {
			if entries[i].Details == nil {
				entries[i].Details = make(map[string]any, len(correlation))
			}
			if _, set := entries[i].Details[k]; !set {
				entries[i].Details[k] = v
			}
		}
		for _, fn := range r.observers {
			fn(entries[i])
		}
	}

	if err := r.sink.Append(ctx, entries...); err != nil {
		logger.Warn(ctx, "audit write failed",
			"error", err,
			"action", entries[0].Action,
			"entity_type", entries[0].EntityType,
			"entity_id", entries[0].EntityID,
			"entries", len(entries),
		)
		if r.onFailure != nil {
			r.onFailure(err, entries)
		}
	}
}

// Batch collects entries during a transaction so they can be recorded after
// commit. Entries are stamped when queued, so their order follows the
// transitions rather than the flush.
type Batch struct {
	entries []Entry
	now     func() time.Time
}

// Begin drops queued entries and sets the clock that stamps new ones.
// Called at the start of a transaction attempt.
func (b *Batch) Begin(now func() time.Time) {
	b.entries = b.entries[:0]
	b.now = now
}

// Add queues an entry.
func (b *Batch) Add(action, entityType, entityID string, value any) {
	b.AddDetailed(action, entityType, entityID, value, nil)
}

// AddDetailed queues an entry with details.
func (b *Batch) AddDetailed(action, entityType, entityID string, value any, details map[string]any) {
	b.entries = append(b.entries, Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Value:      value,
		Details:    details,
		Timestamp:  b.stamp(),
	})
}

func (b *Batch) stamp() time.Time {
	if b.now == nil {
		return time.Now().UTC()
	}
	return b.now()
}

// Flush records the queued entries.
func (b *Batch) Flush(ctx context.Context, r *Recorder) {
	r.Record(ctx, b.entries...)
	b.entries = nil
}

// Entries returns queued entries.
func (b *Batch) Entries() []Entry { return b.entries }
