package ledger

import (
	"fmt"
	"slices"
)

// ItemStatus is the lifecycle status of one physical unit.
type ItemStatus string

const (
	ItemInStock    ItemStatus = "in_stock"
	ItemAllocated  ItemStatus = "allocated"
	ItemPacked     ItemStatus = "packed"
	ItemDispatched ItemStatus = "dispatched"
	ItemDelivered  ItemStatus = "delivered"
	ItemReturned   ItemStatus = "returned"
	ItemDamaged    ItemStatus = "damaged"
	ItemRestocked  ItemStatus = "restocked"
)

// itemTransitions is the allow-list of item moves. Restocked units re-enter
// stock; damaged is terminal.
var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemInStock:    {ItemAllocated},
	ItemAllocated:  {ItemPacked},
	ItemPacked:     {ItemDispatched},
	ItemDispatched: {ItemDelivered, ItemReturned},
	ItemDelivered:  {ItemReturned},
	ItemReturned:   {ItemRestocked, ItemDamaged},
	ItemRestocked:  {ItemInStock},
	ItemDamaged:    {},
}

// String implements fmt.Stringer.
func (s ItemStatus) String() string { return string(s) }

// Validate checks that s is a known status.
func (s ItemStatus) Validate() error {
	if _, ok := itemTransitions[s]; !ok {
		return fmt.Errorf("unknown item status %q", string(s))
	}
	return nil
}

// CanTransitionTo reports whether to is reachable from s in one step.
func (s ItemStatus) CanTransitionTo(to ItemStatus) bool {
	return slices.Contains(itemTransitions[s], to)
}

// IsTerminal reports whether no further transition is possible.
func (s ItemStatus) IsTerminal() bool {
	return len(itemTransitions[s]) == 0
}
