package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"stockflow/internal/core/apperror"
	"stockflow/internal/domain/ledger"
)

type ledgerRepo struct{ s *Store }

func (r *ledgerRepo) CreateBatch(ctx context.Context, b *ledger.Batch) error {
	return r.s.mutate(ctx, func(st *state) error {
		if _, ok := st.batches[b.ID]; ok {
			return apperror.NewConflict("batch already exists").WithDetail("batch_id", b.ID)
		}
		st.batches[b.ID] = b.Clone()
		return nil
	})
}

func (r *ledgerRepo) GetBatch(ctx context.Context, id string) (*ledger.Batch, error) {
	var out *ledger.Batch
	err := r.s.view(ctx, func(st *state) error {
		b, ok := st.batches[id]
		if !ok {
			return apperror.NewNotFound("batch", id)
		}
		out = b.Clone()
		return nil
	})
	return out, err
}

func (r *ledgerRepo) UpdateBatch(ctx context.Context, b *ledger.Batch) error {
	return r.s.mutate(ctx, func(st *state) error {
		cur, ok := st.batches[b.ID]
		if !ok {
			return apperror.NewNotFound("batch", b.ID)
		}
		if cur.Version != b.Version {
			return apperror.NewConcurrentModification("batch", b.ID)
		}
		b.Version++
		st.batches[b.ID] = b.Clone()
		return nil
	})
}

func (r *ledgerRepo) ListOpenBatches(ctx context.Context, productID string, at time.Time) ([]*ledger.Batch, error) {
	var out []*ledger.Batch
	err := r.s.view(ctx, func(st *state) error {
		for _, b := range st.batches {
			if b.ProductID == productID && b.IsOpen(at) {
				out = append(out, b.Clone())
			}
		}
		return nil
	})
	return out, err
}

func (r *ledgerRepo) CreateItems(ctx context.Context, items []*ledger.Item) error {
	return r.s.mutate(ctx, func(st *state) error {
		for _, it := range items {
			if _, ok := st.items[it.ID]; ok {
				return apperror.NewConflict("item already exists").WithDetail("item_id", it.ID)
			}
			if _, ok := st.batches[it.BatchID]; !ok {
				return apperror.NewNotFound("batch", it.BatchID)
			}
			st.items[it.ID] = it.Clone()
		}
		return nil
	})
}

func (r *ledgerRepo) GetItem(ctx context.Context, id string) (*ledger.Item, error) {
	var out *ledger.Item
	err := r.s.view(ctx, func(st *state) error {
		it, ok := st.items[id]
		if !ok {
			return apperror.NewNotFound("item", id)
		}
		out = it.Clone()
		return nil
	})
	return out, err
}

func (r *ledgerRepo) GetItems(ctx context.Context, ids []string) ([]*ledger.Item, error) {
	var out []*ledger.Item
	err := r.s.view(ctx, func(st *state) error {
		for _, id := range ids {
			if it, ok := st.items[id]; ok {
				out = append(out, it.Clone())
			}
		}
		return nil
	})
	return out, err
}

func (r *ledgerRepo) GetItemsForUpdate(ctx context.Context, ids []string) ([]*ledger.Item, error) {
	items, err := r.GetItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(items, func(a, b *ledger.Item) int { return strings.Compare(a.ID, b.ID) })
	return items, nil
}

func (r *ledgerRepo) ListInStock(ctx context.Context, batchID string, limit int) ([]*ledger.Item, error) {
	var out []*ledger.Item
	err := r.s.view(ctx, func(st *state) error {
		for _, it := range st.items {
			if it.BatchID == batchID && it.Status == ledger.ItemInStock {
				out = append(out, it.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b *ledger.Item) int { return strings.Compare(a.ID, b.ID) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ledgerRepo) UpdateItem(ctx context.Context, item *ledger.Item, expected ledger.ItemStatus) error {
	return r.s.mutate(ctx, func(st *state) error {
		cur, ok := st.items[item.ID]
		if !ok {
			return apperror.NewNotFound("item", item.ID)
		}
		if cur.Status != expected || cur.Version != item.Version {
			return apperror.NewConcurrentModification("item", item.ID)
		}
		item.Version++
		st.items[item.ID] = item.Clone()
		return nil
	})
}
