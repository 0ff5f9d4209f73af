package order

import (
	"context"
	"fmt"
	"time"

	"stockflow/internal/core/tx"
	"stockflow/internal/domain/audit"
	"stockflow/internal/domain/events"
	"stockflow/internal/domain/packaging"
)

// PackageLister reads the packages of an order.
type PackageLister interface {
	ListByOrder(ctx context.Context, orderID string) ([]*packaging.Package, error)
}

// Derive computes the order status implied by its packages. The result never
// precedes current.
func Derive(current Status, pkgs []*packaging.Package) Status {
	if len(pkgs) == 0 {
		return current
	}

	allReady, allDelivered, allReturned, anyDispatched := true, true, true, false
	for _, p := range pkgs {
		if !p.Status.AtLeast(packaging.StatusReadyForDispatch) {
			allReady = false
		}
		if !p.Status.AtLeast(packaging.StatusDelivered) {
			allDelivered = false
		}
		if p.Status != packaging.StatusReturned {
			allReturned = false
		}
		if p.Status.AtLeast(packaging.StatusDispatched) {
			anyDispatched = true
		}
	}

	derived := StatusAllocated
	switch {
	case allReturned:
		derived = StatusReturned
	case allDelivered:
		derived = StatusDelivered
	case anyDispatched:
		derived = StatusDispatched
	case allReady:
		derived = StatusPackaged
	}

	if derived.After(current) {
		return derived
	}
	return current
}

// Aggregator is the Order Status Aggregator. SyncOrder is idempotent.
type Aggregator struct {
	txm      tx.Manager
	repo     Repository
	packages PackageLister
	events   events.Publisher
	audit    *audit.Recorder
	now      func() time.Time
}

// NewAggregator creates the Order Status Aggregator.
func NewAggregator(txm tx.Manager, repo Repository, packages PackageLister, publisher events.Publisher, recorder *audit.Recorder) *Aggregator {
	return &Aggregator{
		txm:      txm,
		repo:     repo,
		packages: packages,
		events:   publisher,
		audit:    recorder,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Used in tests.
func (a *Aggregator) SetClock(now func() time.Time) { a.now = now }

// SyncOrder re-derives the order status from its packages and advances it if needed.
func (a *Aggregator) SyncOrder(ctx context.Context, orderID string) error {
	var trail audit.Batch
	err := a.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		trail.Begin(a.now)
		o, err := a.repo.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		pkgs, err := a.packages.ListByOrder(ctx, orderID)
		if err != nil {
			return err
		}

		next := Derive(o.Status, pkgs)
		if next == o.Status {
			return nil
		}
		return a.advance(ctx, o, next, &trail)
	})
	if err != nil {
		return err
	}
	trail.Flush(ctx, a.audit)
	return nil
}

// Advance moves an order forward inside the caller's transaction.
// Used when the order is created and allocated in the same transaction.
func (a *Aggregator) Advance(ctx context.Context, o *Order, to Status, trail *audit.Batch) error {
	if !to.After(o.Status) {
		return nil
	}
	return a.advance(ctx, o, to, trail)
}

func (a *Aggregator) advance(ctx context.Context, o *Order, to Status, trail *audit.Batch) error {
	from := o.Status
	o.Status = to
	o.UpdatedAt = a.now()
	if err := a.repo.Update(ctx, o, from); err != nil {
		return err
	}
	if err := a.events.Publish(ctx, events.Event{
		Type:          events.OrderStatusChanged,
		AggregateType: audit.EntityOrder,
		AggregateID:   o.ID,
		Payload:       map[string]any{"from": from, "to": to},
		OccurredAt:    o.UpdatedAt,
	}); err != nil {
		return err
	}
	trail.Add("order."+string(to), audit.EntityOrder, o.ID, map[string]any{"from": from, "to": to})
	return nil
}

// Reconcile syncs up to limit unsettled orders and returns how many were checked.
func (a *Aggregator) Reconcile(ctx context.Context, limit int) (int, error) {
	ids, err := a.repo.ListUnsettled(ctx, limit)
	if err != nil {
		return 0, err
	}
	for i, orderID := range ids {
		if err := a.SyncOrder(ctx, orderID); err != nil {
			return i, fmt.Errorf("sync order %s: %w", orderID, err)
		}
	}
	return len(ids), nil
}
