package memory

import (
	"context"
	"slices"
	"strings"

	"stockflow/internal/core/apperror"
	"stockflow/internal/domain/returns"
)

type returnRepo struct{ s *Store }

func (r *returnRepo) Create(ctx context.Context, ret *returns.Return) error {
	return r.s.mutate(ctx, func(st *state) error {
		if _, ok := st.returns[ret.ID]; ok {
			return apperror.NewConflict("return already exists").WithDetail("return_id", ret.ID)
		}
		st.returns[ret.ID] = ret.Clone()
		return nil
	})
}

func (r *returnRepo) GetByID(ctx context.Context, id string) (*returns.Return, error) {
	var out *returns.Return
	err := r.s.view(ctx, func(st *state) error {
		ret, ok := st.returns[id]
		if !ok {
			return apperror.NewNotFound("return", id)
		}
		out = ret.Clone()
		return nil
	})
	return out, err
}

func (r *returnRepo) GetForUpdate(ctx context.Context, id string) (*returns.Return, error) {
	return r.GetByID(ctx, id)
}

func (r *returnRepo) ListByPackage(ctx context.Context, packageID string) ([]*returns.Return, error) {
	var out []*returns.Return
	err := r.s.view(ctx, func(st *state) error {
		for _, ret := range st.returns {
			if ret.PackageID == packageID {
				out = append(out, ret.Clone())
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *returns.Return) int { return strings.Compare(a.ID, b.ID) })
	return out, err
}

func (r *returnRepo) Update(ctx context.Context, ret *returns.Return, expected returns.Status) error {
	return r.s.mutate(ctx, func(st *state) error {
		cur, ok := st.returns[ret.ID]
		if !ok {
			return apperror.NewNotFound("return", ret.ID)
		}
		if cur.Status != expected || cur.Version != ret.Version {
			return apperror.NewConcurrentModification("return", ret.ID)
		}
		ret.Version++
		st.returns[ret.ID] = ret.Clone()
		return nil
	})
}
