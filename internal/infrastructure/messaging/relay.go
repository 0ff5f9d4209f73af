package messaging

import (
	"context"
	"fmt"
	"time"

	"stockflow/pkg/logger"
)

const (
	defaultBatchSize  = 100
	defaultMaxRetries = 5
)

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithBatchSize sets how many messages one ProcessBatch call handles.
func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithMaxRetries sets the attempts after which a message is parked as failed.
func WithMaxRetries(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

// WithBackoff replaces the retry delay function.
func WithBackoff(fn func(attempt int) time.Duration) RelayOption {
	return func(r *Relay) { r.backoff = fn }
}

// WithResultHook is called once per handled message with its outcome.
func WithResultHook(fn func(msg *Message, err error)) RelayOption {
	return func(r *Relay) { r.onResult = fn }
}

// Relay reads and processes messages from the outbox.
// Used by the background worker to publish events to the message broker.
type Relay struct {
	source     Source
	handler    Handler
	batchSize  int
	maxRetries int
	backoff    func(attempt int) time.Duration
	onResult   func(msg *Message, err error)
	now        func() time.Time
}

// NewRelay creates a new outbox relay.
func NewRelay(source Source, handler Handler, opts ...RelayOption) *Relay {
	r := &Relay{
		source:     source,
		handler:    handler,
		batchSize:  defaultBatchSize,
		maxRetries: defaultMaxRetries,
		backoff:    LinearBackoff(time.Minute),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LinearBackoff waits step times the attempt number.
func LinearBackoff(step time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// ProcessBatch fetches and processes pending messages.
// Returns number of published messages.
func (r *Relay) ProcessBatch(ctx context.Context) (int, error) {
	messages, err := r.source.FetchPending(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch outbox messages: %w", err)
	}

	published := 0
	for _, msg := range messages {
		if err := r.processMessage(ctx, msg); err != nil {
			logger.Warn(ctx, "outbox message not published",
				"message_id", msg.ID,
				"event_type", msg.EventType,
				"retry_count", msg.RetryCount,
				"error", err)
			continue
		}
		published++
	}
	return published, nil
}

func (r *Relay) processMessage(ctx context.Context, msg *Message) error {
	err := r.handler.Handle(ctx, msg)
	if r.onResult != nil {
		r.onResult(msg, err)
	}
	if err != nil {
		next := r.now().Add(r.backoff(msg.RetryCount + 1))
		if markErr := r.source.MarkFailed(ctx, msg.ID, err, next, r.maxRetries); markErr != nil {
			return fmt.Errorf("update failed message: %w", markErr)
		}
		return err
	}
	return r.source.MarkPublished(ctx, msg.ID)
}

// Cleanup removes published messages older than retention.
func (r *Relay) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	return r.source.DeletePublished(ctx, r.now().Add(-retention))
}
