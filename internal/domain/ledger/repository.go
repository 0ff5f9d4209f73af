package ledger

import (
	"context"
	"time"
)

// Repository is the persistence port for batches and items.
// Item updates are conditional on the status the caller last observed.
type Repository interface {
	CreateBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
	UpdateBatch(ctx context.Context, b *Batch) error

	// ListOpenBatches returns batches of the product that are open at t, unordered.
	ListOpenBatches(ctx context.Context, productID string, at time.Time) ([]*Batch, error)

	CreateItems(ctx context.Context, items []*Item) error
	GetItem(ctx context.Context, id string) (*Item, error)
	GetItems(ctx context.Context, ids []string) ([]*Item, error)

	// GetItemsForUpdate locks the items for the surrounding transaction.
	GetItemsForUpdate(ctx context.Context, ids []string) ([]*Item, error)

	// ListInStock returns up to limit in_stock items of the batch ordered by id,
	// locking them for the surrounding transaction.
	ListInStock(ctx context.Context, batchID string, limit int) ([]*Item, error)

	// UpdateItem persists status and history only if the stored status is still expected.
	UpdateItem(ctx context.Context, item *Item, expected ItemStatus) error
}
