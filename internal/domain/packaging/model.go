// Package packaging owns the Package aggregate and its state machine.
package packaging

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"stockflow/internal/core/apperror"
)

// AllocationEntry lists the items of one product and batch held by a package.
type AllocationEntry struct {
	ProductID string   `json:"productId"`
	BatchID   string   `json:"batchId"`
	Quantity  int      `json:"quantity"`
	ItemIDs   []string `json:"itemIds"`
}

// Totals are the physical and monetary totals of a package.
// They are computed once at creation and never recomputed.
type Totals struct {
	Weight decimal.Decimal `json:"weight"`
	Volume decimal.Decimal `json:"volume"`
	Value  decimal.Decimal `json:"value"`
}

// Package is a shippable grouping of allocated items for one order.
// Released lists items a processed return took back; they no longer count as
// held, even while the package is still open.
type Package struct {
	ID          string            `json:"id"`
	OrderID     string            `json:"orderId"`
	WarehouseID string            `json:"warehouseId"`
	Allocations []AllocationEntry `json:"allocations"`
	Status      Status            `json:"status"`
	Totals      Totals            `json:"totals"`
	PackedBy    string            `json:"packedBy,omitempty"`
	PackedAt    *time.Time        `json:"packedAt,omitempty"`
	Notes       string            `json:"notes,omitempty"`
	Released    []string          `json:"releasedItemIds,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	Version     int               `json:"-"`
}

// ItemIDs returns all item ids across allocation entries, in entry order.
func (p *Package) ItemIDs() []string {
	var out []string
	for _, a := range p.Allocations {
		out = append(out, a.ItemIDs...)
	}
	return out
}

// HeldItemIDs returns the package's items minus the released ones.
func (p *Package) HeldItemIDs() []string {
	if len(p.Released) == 0 {
		return p.ItemIDs()
	}
	released := make(map[string]struct{}, len(p.Released))
	for _, id := range p.Released {
		released[id] = struct{}{}
	}
	var out []string
	for _, id := range p.ItemIDs() {
		if _, ok := released[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// Release marks items of the package as taken back. Ids already released or
// not in the package are ignored. It reports whether anything changed.
func (p *Package) Release(itemIDs []string) bool {
	own := make(map[string]struct{})
	for _, id := range p.ItemIDs() {
		own[id] = struct{}{}
	}
	for _, id := range p.Released {
		delete(own, id)
	}
	changed := false
	for _, id := range itemIDs {
		if _, ok := own[id]; ok {
			p.Released = append(p.Released, id)
			delete(own, id)
			changed = true
		}
	}
	return changed
}

// FullyReleased reports whether every item of the package was released.
func (p *Package) FullyReleased() bool {
	return len(p.HeldItemIDs()) == 0
}

// ItemCount returns the sum of allocation quantities.
func (p *Package) ItemCount() int {
	n := 0
	for _, a := range p.Allocations {
		n += a.Quantity
	}
	return n
}

// Validate checks the allocation invariant: quantities match item ids and no
// item appears twice.
func (p *Package) Validate() error {
	if p.OrderID == "" {
		return apperror.NewValidation("package must reference an order")
	}
	if len(p.Allocations) == 0 {
		return apperror.NewValidation("package has no allocations")
	}
	seen := make(map[string]struct{})
	for i, a := range p.Allocations {
		if a.Quantity != len(a.ItemIDs) {
			return apperror.NewValidation(fmt.Sprintf(
				"allocation %d: quantity %d does not match %d item ids", i, a.Quantity, len(a.ItemIDs)))
		}
		for _, itemID := range a.ItemIDs {
			if _, dup := seen[itemID]; dup {
				return apperror.NewValidation(fmt.Sprintf("item %s allocated twice", itemID))
			}
			seen[itemID] = struct{}{}
		}
	}
	return nil
}

// TransitionTo moves the package along the allow-list.
func (p *Package) TransitionTo(to Status, at time.Time) error {
	if !p.Status.CanTransitionTo(to) {
		return apperror.NewInvalidStateTransition("package", p.Status, to).
			WithDetail("package_id", p.ID)
	}
	p.Status = to
	p.UpdatedAt = at
	return nil
}

// Clone returns a deep copy.
func (p *Package) Clone() *Package {
	c := *p
	c.Allocations = make([]AllocationEntry, len(p.Allocations))
	for i, a := range p.Allocations {
		a.ItemIDs = append([]string(nil), a.ItemIDs...)
		c.Allocations[i] = a
	}
	c.Released = append([]string(nil), p.Released...)
	if p.PackedAt != nil {
		t := *p.PackedAt
		c.PackedAt = &t
	}
	return &c
}
