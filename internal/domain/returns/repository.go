package returns

import "context"

// Repository is the persistence port for returns.
type Repository interface {
	Create(ctx context.Context, r *Return) error
	GetByID(ctx context.Context, id string) (*Return, error)
	GetForUpdate(ctx context.Context, id string) (*Return, error)
	ListByPackage(ctx context.Context, packageID string) ([]*Return, error)

	// Update persists r only if the stored status is expected and versions match.
	Update(ctx context.Context, r *Return, expected Status) error
}
