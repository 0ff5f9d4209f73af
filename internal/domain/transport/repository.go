package transport

import "context"

// Repository is the persistence port for transports.
// A package has at most one forward leg; a return has at most one reverse leg.
type Repository interface {
	Create(ctx context.Context, t *Transport) error
	GetByID(ctx context.Context, id string) (*Transport, error)
	GetForUpdate(ctx context.Context, id string) (*Transport, error)

	// GetActive returns the forward leg of the package, or NotFound.
	GetActive(ctx context.Context, packageID string) (*Transport, error)

	// DeleteActive removes the forward leg of the package, if any.
	DeleteActive(ctx context.Context, packageID string) error

	// GetActiveForReturn returns the reverse leg of the return, or NotFound.
	GetActiveForReturn(ctx context.Context, returnID string) (*Transport, error)

	// DeleteActiveForReturn removes the reverse leg of the return, if any.
	DeleteActiveForReturn(ctx context.Context, returnID string) error

	// Update persists t only if the stored status is expected and versions match.
	Update(ctx context.Context, t *Transport, expected Status) error

	ListByPackage(ctx context.Context, packageID string) ([]*Transport, error)
}
