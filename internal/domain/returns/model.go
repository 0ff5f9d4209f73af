// Package returns drives shipped items back into the warehouse.
package returns

import (
	"fmt"
	"slices"
	"time"

	"stockflow/internal/core/apperror"
)

// Reason a return was raised.
type Reason string

const (
	ReasonDefective       Reason = "defective"
	ReasonDamaged         Reason = "damaged"
	ReasonWrongItem       Reason = "wrong_item"
	ReasonQualityIssue    Reason = "quality_issue"
	ReasonCustomerRequest Reason = "customer_request"
)

// Reasons lists every accepted reason.
func Reasons() []Reason {
	return []Reason{ReasonDefective, ReasonDamaged, ReasonWrongItem, ReasonQualityIssue, ReasonCustomerRequest}
}

// Validate checks that r is a known reason.
func (r Reason) Validate() error {
	if !slices.Contains(Reasons(), r) {
		return fmt.Errorf("unknown return reason %q", string(r))
	}
	return nil
}

// Status of a return.
type Status string

const (
	StatusInitiated       Status = "initiated"
	StatusPickupScheduled Status = "pickup_scheduled"
	StatusPickedUp        Status = "picked_up"
	StatusReceived        Status = "received"
	StatusProcessed       Status = "processed"
)

var transitions = map[Status][]Status{
	StatusInitiated:       {StatusPickupScheduled},
	StatusPickupScheduled: {StatusPickedUp},
	StatusPickedUp:        {StatusReceived, StatusProcessed},
	StatusReceived:        {StatusProcessed},
	StatusProcessed:       {},
}

// String implements fmt.Stringer.
func (s Status) String() string { return string(s) }

// CanTransitionTo reports whether to is reachable from s in one step.
func (s Status) CanTransitionTo(to Status) bool {
	return slices.Contains(transitions[s], to)
}

// Disposition is the fate of returned items.
type Disposition string

const (
	DispositionRestocked Disposition = "restocked"
	DispositionDamaged   Disposition = "damaged"
)

// Validate checks that d is a known disposition.
func (d Disposition) Validate() error {
	switch d {
	case DispositionRestocked, DispositionDamaged:
		return nil
	}
	return fmt.Errorf("unknown disposition %q", string(d))
}

// Item is a returned group of units of one product and batch.
type Item struct {
	ProductID string   `json:"productId"`
	BatchID   string   `json:"batchId"`
	Quantity  int      `json:"quantity"`
	ItemIDs   []string `json:"itemIds"`
}

// Return is a reversal of shipped items against one package.
type Return struct {
	ID            string      `json:"id"`
	Number        string      `json:"number,omitempty"`
	PackageID     string      `json:"packageId"`
	OrderID       string      `json:"orderId"`
	WarehouseID   string      `json:"warehouseId"`
	Items         []Item      `json:"items"`
	Reason        Reason      `json:"reason"`
	Status        Status      `json:"status"`
	Disposition   Disposition `json:"disposition,omitempty"`
	TransportID   string      `json:"transportId,omitempty"`
	ReturnDate    time.Time   `json:"returnDate"`
	ReceivedDate  *time.Time  `json:"receivedDate,omitempty"`
	ProcessedDate *time.Time  `json:"processedDate,omitempty"`
	InitiatedBy   string      `json:"initiatedBy,omitempty"`
	ProcessedBy   string      `json:"processedBy,omitempty"`
	Notes         string      `json:"notes,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
	Version       int         `json:"-"`
}

// ItemIDs returns all returned item ids.
func (r *Return) ItemIDs() []string {
	var out []string
	for _, it := range r.Items {
		out = append(out, it.ItemIDs...)
	}
	return out
}

// TransitionTo moves the return along its linear path.
func (r *Return) TransitionTo(to Status, at time.Time) error {
	if !r.Status.CanTransitionTo(to) {
		return apperror.NewInvalidStateTransition("return", r.Status, to).
			WithDetail("return_id", r.ID)
	}
	r.Status = to
	r.UpdatedAt = at
	return nil
}

// Clone returns a deep copy.
func (r *Return) Clone() *Return {
	c := *r
	c.Items = make([]Item, len(r.Items))
	for i, it := range r.Items {
		it.ItemIDs = append([]string(nil), it.ItemIDs...)
		c.Items[i] = it
	}
	if r.ReceivedDate != nil {
		t := *r.ReceivedDate
		c.ReceivedDate = &t
	}
	if r.ProcessedDate != nil {
		t := *r.ProcessedDate
		c.ProcessedDate = &t
	}
	return &c
}
