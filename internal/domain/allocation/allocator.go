// Package allocation reserves in-stock items against order lines.
package allocation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stockflow/internal/core/apperror"
	"stockflow/internal/domain/audit"
	"stockflow/internal/domain/ledger"
)

var tracer = otel.Tracer("stockflow/allocation")

// Line is one requested product quantity.
type Line struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Allocation is the set of items reserved from one batch for one product.
type Allocation struct {
	ProductID string   `json:"productId"`
	BatchID   string   `json:"batchId"`
	Quantity  int      `json:"quantity"`
	ItemIDs   []string `json:"itemIds"`
}

// Allocator is the Batch Allocator.
type Allocator struct {
	ledger   *ledger.Service
	strategy Strategy
	now      func() time.Time
}

// NewAllocator creates an allocator using the given batch ordering.
func NewAllocator(l *ledger.Service, strategy Strategy) *Allocator {
	return &Allocator{
		ledger:   l,
		strategy: strategy,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Used in tests.
func (a *Allocator) SetClock(now func() time.Time) { a.now = now }

// Allocate reserves items for every line and marks them allocated.
//
// All lines are planned before any item is touched; if any line cannot be
// satisfied the call fails with InsufficientStock and no item changes status.
// Must run inside a transaction.
func (a *Allocator) Allocate(ctx context.Context, orderID string, lines []Line, trail *audit.Batch) ([]Allocation, error) {
	ctx, span := tracer.Start(ctx, "allocation.Allocate",
		trace.WithAttributes(attribute.String("order.id", orderID), attribute.Int("lines", len(lines))))
	defer span.End()

	demand, err := mergeLines(lines)
	if err != nil {
		return nil, err
	}

	repo := a.ledger.Repository()
	at := a.now()

	var (
		plan    []Allocation
		drained []string
	)
	for _, d := range demand {
		batches, err := repo.ListOpenBatches(ctx, d.ProductID, at)
		if err != nil {
			return nil, fmt.Errorf("list batches for %s: %w", d.ProductID, err)
		}
		a.strategy.SortBatches(batches)

		remaining := d.Quantity
		for _, b := range batches {
			if remaining == 0 {
				break
			}
			items, err := repo.ListInStock(ctx, b.ID, remaining)
			if err != nil {
				return nil, fmt.Errorf("list stock of batch %s: %w", b.ID, err)
			}
			if len(items) < remaining {
				drained = append(drained, b.ID)
			}
			if len(items) == 0 {
				continue
			}
			ids := make([]string, len(items))
			for i, it := range items {
				ids[i] = it.ID
			}
			plan = append(plan, Allocation{
				ProductID: d.ProductID,
				BatchID:   b.ID,
				Quantity:  len(ids),
				ItemIDs:   ids,
			})
			remaining -= len(ids)
		}
		if remaining > 0 {
			return nil, apperror.NewInsufficientStock(d.ProductID, d.Quantity, d.Quantity-remaining)
		}
	}

	for _, alloc := range plan {
		if _, err := a.ledger.Transition(ctx, alloc.ItemIDs, ledger.ItemAllocated, "allocated to order "+orderID, orderID, trail); err != nil {
			return nil, err
		}
	}
	for _, batchID := range drained {
		if err := a.ledger.SetBatchClosed(ctx, batchID, true, orderID, trail); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// mergeLines validates lines and sums quantities per product, keeping first-seen order.
func mergeLines(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, apperror.NewValidation("order has no lines")
	}
	index := make(map[string]int, len(lines))
	var out []Line
	for i, l := range lines {
		if l.ProductID == "" {
			return nil, apperror.NewValidation(fmt.Sprintf("line %d: productId is required", i))
		}
		if l.Quantity <= 0 {
			return nil, apperror.NewValidation(fmt.Sprintf("line %d: quantity must be positive", i))
		}
		if pos, ok := index[l.ProductID]; ok {
			out[pos].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out, nil
}
