package packaging

import (
	"fmt"
	"slices"
)

// Status is the package lifecycle status.
type Status string

const (
	StatusCreated          Status = "created"
	StatusReadyForDispatch Status = "ready_for_dispatch"
	StatusDispatched       Status = "dispatched"
	StatusInTransit        Status = "in_transit"
	StatusDelivered        Status = "delivered"
	StatusReturned         Status = "returned"
)

var transitions = map[Status][]Status{
	StatusCreated:          {StatusReadyForDispatch},
	StatusReadyForDispatch: {StatusDispatched},
	StatusDispatched:       {StatusInTransit},
	StatusInTransit:        {StatusDelivered, StatusReturned},
	StatusDelivered:        {StatusReturned},
	StatusReturned:         {},
}

// rank orders statuses along the forward path.
var rank = map[Status]int{
	StatusCreated:          0,
	StatusReadyForDispatch: 1,
	StatusDispatched:       2,
	StatusInTransit:        3,
	StatusDelivered:        4,
	StatusReturned:         5,
}

// String implements fmt.Stringer.
func (s Status) String() string { return string(s) }

// Validate checks that s is a known status.
func (s Status) Validate() error {
	if _, ok := transitions[s]; !ok {
		return fmt.Errorf("unknown package status %q", string(s))
	}
	return nil
}

// CanTransitionTo reports whether to is reachable from s in one step.
func (s Status) CanTransitionTo(to Status) bool {
	return slices.Contains(transitions[s], to)
}

// IsTerminal reports whether a transporter may no longer be assigned.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusReturned
}

// IsOpen reports whether the package still holds its items on the way out.
// Items of open packages must not appear in any other open package.
func (s Status) IsOpen() bool {
	return rank[s] < rank[StatusDelivered]
}

// AtLeast reports whether s is at or beyond other on the forward path.
func (s Status) AtLeast(other Status) bool {
	return rank[s] >= rank[other]
}
