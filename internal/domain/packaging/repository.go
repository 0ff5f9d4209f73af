package packaging

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository is the persistence port for packages.
type Repository interface {
	Create(ctx context.Context, p *Package) error
	GetByID(ctx context.Context, id string) (*Package, error)

	// GetForUpdate locks the package for the surrounding transaction.
	GetForUpdate(ctx context.Context, id string) (*Package, error)

	ListByOrder(ctx context.Context, orderID string) ([]*Package, error)

	// ListOpenByItems returns open packages referencing any of the items.
	ListOpenByItems(ctx context.Context, itemIDs []string) ([]*Package, error)

	// Update persists p only if the stored status is expected and the stored
	// version equals p.Version; p.Version is incremented on success.
	Update(ctx context.Context, p *Package, expected Status) error
}

// Product carries the unit values used for package totals.
type Product struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	SKU        string          `json:"sku"`
	UnitWeight decimal.Decimal `json:"unitWeight"`
	UnitVolume decimal.Decimal `json:"unitVolume"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
}

// ProductCatalog is the external product collaborator.
type ProductCatalog interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
}

// OrderSyncer re-derives an order's status from its packages.
type OrderSyncer interface {
	SyncOrder(ctx context.Context, orderID string) error
}
