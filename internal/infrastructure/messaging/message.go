// Package messaging relays transactional outbox messages to a broker.
package messaging

import (
	"context"
	"time"

	"stockflow/internal/core/id"
)

// Status represents the state of an outbox message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// Message represents a message in the transactional outbox.
type Message struct {
	ID            id.ID      `db:"id"`
	AggregateType string     `db:"aggregate_type"` // package, order, return...
	AggregateID   string     `db:"aggregate_id"`
	EventType     string     `db:"event_type"` // package.packed, return.processed...
	Payload       []byte     `db:"payload"`    // JSON
	Status        Status     `db:"status"`
	RetryCount    int        `db:"retry_count"`
	LastError     *string    `db:"last_error"`
	NextRetryAt   *time.Time `db:"next_retry_at"`
	CreatedAt     time.Time  `db:"created_at"`
	PublishedAt   *time.Time `db:"published_at"`
}

// Source is the outbox side of the relay.
type Source interface {
	// FetchPending returns pending messages that are due, oldest first.
	FetchPending(ctx context.Context, limit int) ([]*Message, error)
	MarkPublished(ctx context.Context, msgID id.ID) error
	// MarkFailed records a failed attempt. Once RetryCount reaches maxRetries
	// the message is parked as failed.
	MarkFailed(ctx context.Context, msgID id.ID, cause error, nextRetry time.Time, maxRetries int) error
	DeletePublished(ctx context.Context, before time.Time) (int64, error)
}

// Handler processes outbox messages.
type Handler interface {
	// Handle processes a message and returns error if failed
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error { return f(ctx, msg) }
