// Package events defines domain events written to the transactional outbox.
package events

import (
	"context"
	"time"
)

// Event types.
const (
	OrderPlaced            = "order.placed"
	OrderStatusChanged     = "order.status_changed"
	PackageCreated         = "package.created"
	PackagePacked          = "package.packed"
	PackageStatusChanged   = "package.status_changed"
	TransportAssigned      = "transport.assigned"
	TransportStatusChanged = "transport.status_changed"
	ReturnInitiated        = "return.initiated"
	ReturnStatusChanged    = "return.status_changed"
	ReturnProcessed        = "return.processed"
)

// Event is a fact about a committed state change.
type Event struct {
	Type          string
	AggregateType string
	AggregateID   string
	Payload       any
	OccurredAt    time.Time
}

// Publisher stores events. Implementations must join the transaction carried by ctx,
// so an event exists if and only if its state change was committed.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, ...Event) error { return nil }
