package order

import "context"

// Repository is the persistence port for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetForUpdate(ctx context.Context, id string) (*Order, error)

	// Update persists o only if the stored status is expected and versions match.
	Update(ctx context.Context, o *Order, expected Status) error

	// ListUnsettled returns ids of orders not yet delivered or returned, oldest first.
	ListUnsettled(ctx context.Context, limit int) ([]string, error)
}
