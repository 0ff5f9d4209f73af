package memory

import (
	"context"
	"slices"
	"strings"

	"stockflow/internal/core/apperror"
	"stockflow/internal/domain/transport"
)

type transportRepo struct{ s *Store }

func (r *transportRepo) Create(ctx context.Context, t *transport.Transport) error {
	return r.s.mutate(ctx, func(st *state) error {
		if _, ok := st.transports[t.ID]; ok {
			return apperror.NewConflict("transport already exists").WithDetail("transport_id", t.ID)
		}
		for _, cur := range st.transports {
			if sameLeg(cur, t) {
				return apperror.NewConflict("an active transport already covers this leg").
					WithDetail("package_id", t.PackageID).
					WithDetail("return_id", t.ReturnID).
					WithDetail("direction", t.Direction)
			}
		}
		st.transports[t.ID] = t.Clone()
		return nil
	})
}

func (r *transportRepo) GetByID(ctx context.Context, id string) (*transport.Transport, error) {
	var out *transport.Transport
	err := r.s.view(ctx, func(st *state) error {
		t, ok := st.transports[id]
		if !ok {
			return apperror.NewNotFound("transport", id)
		}
		out = t.Clone()
		return nil
	})
	return out, err
}

func (r *transportRepo) GetForUpdate(ctx context.Context, id string) (*transport.Transport, error) {
	return r.GetByID(ctx, id)
}

func (r *transportRepo) GetActive(ctx context.Context, packageID string) (*transport.Transport, error) {
	return r.find(ctx, packageID, func(t *transport.Transport) bool {
		return t.Direction == transport.DirectionForward && t.PackageID == packageID
	})
}

func (r *transportRepo) GetActiveForReturn(ctx context.Context, returnID string) (*transport.Transport, error) {
	return r.find(ctx, returnID, func(t *transport.Transport) bool {
		return t.Direction == transport.DirectionReverse && t.ReturnID == returnID
	})
}

func (r *transportRepo) DeleteActive(ctx context.Context, packageID string) error {
	return r.remove(ctx, func(t *transport.Transport) bool {
		return t.Direction == transport.DirectionForward && t.PackageID == packageID
	})
}

func (r *transportRepo) DeleteActiveForReturn(ctx context.Context, returnID string) error {
	return r.remove(ctx, func(t *transport.Transport) bool {
		return t.Direction == transport.DirectionReverse && t.ReturnID == returnID
	})
}

func (r *transportRepo) find(ctx context.Context, key string, match func(*transport.Transport) bool) (*transport.Transport, error) {
	var out *transport.Transport
	err := r.s.view(ctx, func(st *state) error {
		for _, t := range st.transports {
			if match(t) {
				out = t.Clone()
				return nil
			}
		}
		return apperror.NewNotFound("transport", key)
	})
	return out, err
}

func (r *transportRepo) remove(ctx context.Context, match func(*transport.Transport) bool) error {
	return r.s.mutate(ctx, func(st *state) error {
		for id, t := range st.transports {
			if match(t) {
				delete(st.transports, id)
			}
		}
		return nil
	})
}

// sameLeg reports whether a and b occupy the same slot: the forward leg of a
// package or the reverse leg of a return.
func sameLeg(a, b *transport.Transport) bool {
	if a.Direction != b.Direction {
		return false
	}
	if a.Direction == transport.DirectionReverse {
		return a.ReturnID == b.ReturnID
	}
	return a.PackageID == b.PackageID
}

func (r *transportRepo) Update(ctx context.Context, t *transport.Transport, expected transport.Status) error {
	return r.s.mutate(ctx, func(st *state) error {
		cur, ok := st.transports[t.ID]
		if !ok {
			return apperror.NewNotFound("transport", t.ID)
		}
		if cur.Status != expected || cur.Version != t.Version {
			return apperror.NewConcurrentModification("transport", t.ID)
		}
		t.Version++
		st.transports[t.ID] = t.Clone()
		return nil
	})
}

func (r *transportRepo) ListByPackage(ctx context.Context, packageID string) ([]*transport.Transport, error) {
	var out []*transport.Transport
	err := r.s.view(ctx, func(st *state) error {
		for _, t := range st.transports {
			if t.PackageID == packageID {
				out = append(out, t.Clone())
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *transport.Transport) int { return strings.Compare(a.ID, b.ID) })
	return out, err
}
