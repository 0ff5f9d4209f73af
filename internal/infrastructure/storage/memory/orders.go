package memory

import (
	"context"
	"slices"
	"strings"

	"stockflow/internal/core/apperror"
	"stockflow/internal/domain/order"
	"stockflow/internal/domain/packaging"
)

type orderRepo struct{ s *Store }

func (r *orderRepo) Create(ctx context.Context, o *order.Order) error {
	return r.s.mutate(ctx, func(st *state) error {
		if _, ok := st.orders[o.ID]; ok {
			return apperror.NewConflict("order already exists").WithDetail("order_id", o.ID)
		}
		st.orders[o.ID] = o.Clone()
		return nil
	})
}

func (r *orderRepo) GetByID(ctx context.Context, id string) (*order.Order, error) {
	var out *order.Order
	err := r.s.view(ctx, func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return apperror.NewNotFound("order", id)
		}
		out = o.Clone()
		return nil
	})
	return out, err
}

func (r *orderRepo) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.GetByID(ctx, id)
}

func (r *orderRepo) Update(ctx context.Context, o *order.Order, expected order.Status) error {
	return r.s.mutate(ctx, func(st *state) error {
		cur, ok := st.orders[o.ID]
		if !ok {
			return apperror.NewNotFound("order", o.ID)
		}
		if cur.Status != expected || cur.Version != o.Version {
			return apperror.NewConcurrentModification("order", o.ID)
		}
		o.Version++
		st.orders[o.ID] = o.Clone()
		return nil
	})
}

func (r *orderRepo) ListUnsettled(ctx context.Context, limit int) ([]string, error) {
	var out []string
	err := r.s.view(ctx, func(st *state) error {
		for id, o := range st.orders {
			if o.Status != order.StatusDelivered && o.Status != order.StatusReturned {
				out = append(out, id)
			}
		}
		return nil
	})
	slices.SortFunc(out, strings.Compare)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

// Catalog is the in-memory product catalog.
type Catalog struct{ s *Store }

// GetProduct implements packaging.ProductCatalog.
func (c *Catalog) GetProduct(ctx context.Context, id string) (*packaging.Product, error) {
	var out *packaging.Product
	err := c.s.view(ctx, func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return apperror.NewNotFound("product", id)
		}
		cp := *p
		out = &cp
		return nil
	})
	return out, err
}

// Put inserts or replaces a product.
func (c *Catalog) Put(ctx context.Context, p *packaging.Product) error {
	if p.ID == "" {
		return apperror.NewValidation("product id is required")
	}
	return c.s.mutate(ctx, func(st *state) error {
		cp := *p
		st.products[p.ID] = &cp
		return nil
	})
}
