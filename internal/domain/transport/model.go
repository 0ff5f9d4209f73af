// Package transport assigns transporters to packages and tracks their legs.
package transport

import (
	"fmt"
	"slices"
	"time"

	"stockflow/internal/core/apperror"
)

// Direction of a transport leg.
type Direction string

const (
	DirectionForward Direction = "forward"
	DirectionReverse Direction = "reverse"
)

// String implements fmt.Stringer.
func (d Direction) String() string { return string(d) }

// Status of a transport leg.
type Status string

const (
	StatusDispatched Status = "dispatched"
	StatusInTransit  Status = "in_transit"
	StatusDelivered  Status = "delivered"
)

var transitions = map[Status][]Status{
	StatusDispatched: {StatusInTransit},
	StatusInTransit:  {StatusDelivered},
	StatusDelivered:  {},
}

// String implements fmt.Stringer.
func (s Status) String() string { return string(s) }

// Validate checks that s is a known status.
func (s Status) Validate() error {
	if _, ok := transitions[s]; !ok {
		return fmt.Errorf("unknown transport status %q", string(s))
	}
	return nil
}

// CanTransitionTo reports whether to is reachable from s in one step.
func (s Status) CanTransitionTo(to Status) bool {
	return slices.Contains(transitions[s], to)
}

// HistoryEntry records one status change of a transport.
type HistoryEntry struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Notes     string    `json:"notes,omitempty"`
	ChangedBy string    `json:"changedBy,omitempty"`
}

// Transport is one transporter assignment for a package in one direction.
type Transport struct {
	ID            string         `json:"id"`
	PackageID     string         `json:"packageId"`
	ReturnID      string         `json:"returnId,omitempty"`
	TransporterID string         `json:"transporterId"`
	Direction     Direction      `json:"type"`
	AssignedBy    string         `json:"assignedBy,omitempty"`
	Status        Status         `json:"status"`
	History       []HistoryEntry `json:"statusHistory"`
	Notes         string         `json:"notes,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	Version       int            `json:"-"`
}

// TransitionTo moves the transport forward and appends a history entry.
func (t *Transport) TransitionTo(to Status, notes, actor string, at time.Time) error {
	if !t.Status.CanTransitionTo(to) {
		return apperror.NewInvalidStateTransition("transport", t.Status, to).
			WithDetail("transport_id", t.ID)
	}
	t.Status = to
	t.UpdatedAt = at
	t.History = append(t.History, HistoryEntry{Status: to, Timestamp: at, Notes: notes, ChangedBy: actor})
	return nil
}

// Clone returns a deep copy.
func (t *Transport) Clone() *Transport {
	c := *t
	c.History = append([]HistoryEntry(nil), t.History...)
	return &c
}
