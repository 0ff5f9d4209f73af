package ledger

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"stockflow/internal/core/apperror"
	"stockflow/internal/core/id"
	"stockflow/internal/core/tx"
	"stockflow/internal/domain/audit"
)

// Service is the Item Ledger. Every item status change in the pipeline goes
// through Transition, which is scoped to explicit item ids.
type Service struct {
	txm  tx.Manager
	repo Repository
	now  func() time.Time
}

// NewService creates the Item Ledger service.
func NewService(txm tx.Manager, repo Repository) *Service {
	return &Service{
		txm:  txm,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Used in tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Repository exposes the underlying repository to collaborating services.
func (s *Service) Repository() Repository { return s.repo }

// Transition moves every listed item to status to and appends one history entry each.
// It fails without changes if any item is missing or cannot reach to.
// Must run inside a transaction when called from other services.
func (s *Service) Transition(ctx context.Context, ids []string, to ItemStatus, notes, ref string, trail *audit.Batch) ([]*Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if err := to.Validate(); err != nil {
		return nil, apperror.NewValidation(err.Error())
	}

	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	if dup := firstDuplicate(sorted); dup != "" {
		return nil, apperror.NewValidation(fmt.Sprintf("item %s listed more than once", dup))
	}

	items, err := s.repo.GetItemsForUpdate(ctx, sorted)
	if err != nil {
		return nil, err
	}
	if err := requireAll(sorted, items); err != nil {
		return nil, err
	}

	at := s.now()
	for _, item := range items {
		if !item.Status.CanTransitionTo(to) {
			return nil, apperror.NewInvalidStateTransition("item", item.Status, to).
				WithDetail("item_id", item.ID)
		}
	}
	for _, item := range items {
		from := item.Status
		if err := item.Transition(to, notes, ref, at); err != nil {
			return nil, err
		}
		if err := s.repo.UpdateItem(ctx, item, from); err != nil {
			return nil, err
		}
		if trail != nil {
			trail.AddDetailed("item."+string(to), audit.EntityItem, item.ID,
				map[string]any{"from": from, "to": to},
				map[string]any{"reference": ref})
		}
	}
	return items, nil
}

// Restock returns items to stock: returned -> restocked -> in_stock.
// Items stay in their original batch, which is reopened if it was closed.
func (s *Service) Restock(ctx context.Context, ids []string, notes, ref string, trail *audit.Batch) ([]*Item, error) {
	if _, err := s.Transition(ctx, ids, ItemRestocked, notes, ref, trail); err != nil {
		return nil, err
	}
	items, err := s.Transition(ctx, ids, ItemInStock, "re-entered stock", ref, trail)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, it := range items {
		if seen[it.BatchID] {
			continue
		}
		seen[it.BatchID] = true
		if err := s.SetBatchClosed(ctx, it.BatchID, false, ref, trail); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// SetBatchClosed closes a drained batch or reopens it. Closed batches are
// skipped by allocation. A no-op when the batch is already in that state.
// Must run inside a transaction.
func (s *Service) SetBatchClosed(ctx context.Context, batchID string, closed bool, ref string, trail *audit.Batch) error {
	b, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if b.Closed == closed {
		return nil
	}
	b.Closed = closed
	if err := s.repo.UpdateBatch(ctx, b); err != nil {
		return err
	}
	if trail != nil {
		action := "batch.reopened"
		if closed {
			action = "batch.closed"
		}
		trail.AddDetailed(action, audit.EntityBatch, b.ID,
			map[string]any{"closed": closed},
			map[string]any{"reference": ref})
	}
	return nil
}

// GetItem returns one item with its history.
func (s *Service) GetItem(ctx context.Context, itemID string) (*Item, error) {
	return s.repo.GetItem(ctx, itemID)
}

// GetItems returns items in the order of ids.
func (s *Service) GetItems(ctx context.Context, ids []string) ([]*Item, error) {
	items, err := s.repo.GetItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	if err := requireAll(ids, items); err != nil {
		return nil, err
	}
	byID := make(map[string]*Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	out := make([]*Item, 0, len(ids))
	for _, itemID := range ids {
		out = append(out, byID[itemID])
	}
	return out, nil
}

// ReceiveInput describes an inbound lot.
type ReceiveInput struct {
	ProductID   string
	WarehouseID string
	LotNumber   string
	Quantity    int
	ReceivedAt  time.Time
	ExpiresAt   *time.Time
	UnitPrice   *decimal.Decimal
}

// Receive creates a batch and its in_stock items.
func (s *Service) Receive(ctx context.Context, in ReceiveInput) (*Batch, []*Item, error) {
	if in.ProductID == "" {
		return nil, nil, apperror.NewValidation("productId is required")
	}
	if in.Quantity <= 0 {
		return nil, nil, apperror.NewValidation("quantity must be positive")
	}

	now := s.now()
	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = now
	}
	batch := &Batch{
		ID:          id.NewBusiness(id.PrefixBatch),
		ProductID:   in.ProductID,
		WarehouseID: in.WarehouseID,
		LotNumber:   in.LotNumber,
		ReceivedAt:  in.ReceivedAt,
		ExpiresAt:   in.ExpiresAt,
		UnitPrice:   in.UnitPrice,
		CreatedAt:   now,
	}
	items := make([]*Item, in.Quantity)
	for i := range items {
		items[i] = &Item{
			ID:        id.NewBusiness(id.PrefixItem),
			ProductID: in.ProductID,
			BatchID:   batch.ID,
			Status:    ItemInStock,
			History: []HistoryEntry{{
				Action:    string(ItemInStock),
				Timestamp: now,
				Notes:     "received",
				Reference: batch.ID,
			}},
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateBatch(ctx, batch); err != nil {
			return err
		}
		return s.repo.CreateItems(ctx, items)
	})
	if err != nil {
		return nil, nil, err
	}
	return batch, items, nil
}

func requireAll(ids []string, items []*Item) error {
	if len(items) == len(ids) {
		return nil
	}
	found := make(map[string]struct{}, len(items))
	for _, it := range items {
		found[it.ID] = struct{}{}
	}
	for _, itemID := range ids {
		if _, ok := found[itemID]; !ok {
			return apperror.NewNotFound("item", itemID)
		}
	}
	return nil
}

func firstDuplicate(sorted []string) string {
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return sorted[i]
		}
	}
	return ""
}
