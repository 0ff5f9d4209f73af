package memory

import (
	"context"
	"slices"
	"strings"

	"stockflow/internal/core/apperror"
	"stockflow/internal/domain/packaging"
)

type packageRepo struct{ s *Store }

func (r *packageRepo) Create(ctx context.Context, p *packaging.Package) error {
	return r.s.mutate(ctx, func(st *state) error {
		if _, ok := st.packages[p.ID]; ok {
			return apperror.NewConflict("package already exists").WithDetail("package_id", p.ID)
		}
		st.packages[p.ID] = p.Clone()
		return nil
	})
}

func (r *packageRepo) GetByID(ctx context.Context, id string) (*packaging.Package, error) {
	var out *packaging.Package
	err := r.s.view(ctx, func(st *state) error {
		p, ok := st.packages[id]
		if !ok {
			return apperror.NewNotFound("package", id)
		}
		out = p.Clone()
		return nil
	})
	return out, err
}

func (r *packageRepo) GetForUpdate(ctx context.Context, id string) (*packaging.Package, error) {
	return r.GetByID(ctx, id)
}

func (r *packageRepo) ListByOrder(ctx context.Context, orderID string) ([]*packaging.Package, error) {
	var out []*packaging.Package
	err := r.s.view(ctx, func(st *state) error {
		for _, p := range st.packages {
			if p.OrderID == orderID {
				out = append(out, p.Clone())
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *packaging.Package) int { return strings.Compare(a.ID, b.ID) })
	return out, err
}

func (r *packageRepo) ListOpenByItems(ctx context.Context, itemIDs []string) ([]*packaging.Package, error) {
	wanted := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		wanted[id] = struct{}{}
	}
	var out []*packaging.Package
	err := r.s.view(ctx, func(st *state) error {
		for _, p := range st.packages {
			if !p.Status.IsOpen() {
				continue
			}
			for _, id := range p.HeldItemIDs() {
				if _, ok := wanted[id]; ok {
					out = append(out, p.Clone())
					break
				}
			}
		}
		return nil
	})
	return out, err
}

func (r *packageRepo) Update(ctx context.Context, p *packaging.Package, expected packaging.Status) error {
	return r.s.mutate(ctx, func(st *state) error {
		cur, ok := st.packages[p.ID]
		if !ok {
			return apperror.NewNotFound("package", p.ID)
		}
		if cur.Status != expected || cur.Version != p.Version {
			return apperror.NewConcurrentModification("package", p.ID)
		}
		p.Version++
		st.packages[p.ID] = p.Clone()
		return nil
	})
}
