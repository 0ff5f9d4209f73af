// Package order holds the Order aggregate and derives its status from its packages.
package order

import (
	"fmt"
	"time"

	"stockflow/internal/domain/allocation"
)

// Status is the order status. It only moves forward.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAllocated  Status = "allocated"
	StatusPackaged   Status = "packaged"
	StatusDispatched Status = "dispatched"
	StatusDelivered  Status = "delivered"
	StatusReturned   Status = "returned"
)

var rank = map[Status]int{
	StatusPending:    0,
	StatusAllocated:  1,
	StatusPackaged:   2,
	StatusDispatched: 3,
	StatusDelivered:  4,
	StatusReturned:   5,
}

// String implements fmt.Stringer.
func (s Status) String() string { return string(s) }

// Validate checks that s is a known status.
func (s Status) Validate() error {
	if _, ok := rank[s]; !ok {
		return fmt.Errorf("unknown order status %q", string(s))
	}
	return nil
}

// After reports whether s is strictly beyond other.
func (s Status) After(other Status) bool {
	return rank[s] > rank[other]
}

// NumberPrefix starts every order number.
const NumberPrefix = "SO"

// Order is the customer order being fulfilled.
type Order struct {
	ID          string            `json:"id"`
	Number      string            `json:"number,omitempty"`
	CustomerRef string            `json:"customerRef,omitempty"`
	WarehouseID string            `json:"warehouseId"`
	Lines       []allocation.Line `json:"lines"`
	Status      Status            `json:"status"`
	Notes       string            `json:"notes,omitempty"`
	CreatedBy   string            `json:"createdBy,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	Version     int               `json:"-"`
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	c := *o
	c.Lines = append([]allocation.Line(nil), o.Lines...)
	return &c
}
