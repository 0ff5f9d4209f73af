package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"stockflow/internal/core/apperror"
	"stockflow/internal/domain/allocation"
	"stockflow/internal/domain/order"
	"stockflow/internal/domain/packaging"
)

var orderColumns = []string{
	"id", "number", "customer_ref", "warehouse_id", "lines", "status", "notes",
	"created_by", "created_at", "updated_at", "version",
}

type orderRow struct {
	ID          string            `db:"id"`
	Number      string            `db:"number"`
	CustomerRef string            `db:"customer_ref"`
	WarehouseID string            `db:"warehouse_id"`
	Lines       []allocation.Line `db:"lines"`
	Status      order.Status      `db:"status"`
	Notes       string            `db:"notes"`
	CreatedBy   string            `db:"created_by"`
	CreatedAt   time.Time         `db:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at"`
	Version     int               `db:"version"`
}

func (r *orderRow) toDomain() *order.Order {
	return &order.Order{
		ID:          r.ID,
		Number:      r.Number,
		CustomerRef: r.CustomerRef,
		WarehouseID: r.WarehouseID,
		Lines:       r.Lines,
		Status:      r.Status,
		Notes:       r.Notes,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		Version:     r.Version,
	}
}

// OrderRepo implements order.Repository.
type OrderRepo struct {
	txManager *TxManager
}

var _ order.Repository = (*OrderRepo)(nil)

// NewOrderRepo creates an order repository.
func NewOrderRepo(txManager *TxManager) *OrderRepo {
	return &OrderRepo{txManager: txManager}
}

func (r *OrderRepo) Create(ctx context.Context, o *order.Order) error {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("marshal order lines: %w", err)
	}
	q := builder().Insert("orders").Columns(orderColumns...).Values(
		o.ID, o.Number, o.CustomerRef, o.WarehouseID, lines, o.Status, o.Notes,
		o.CreatedBy, o.CreatedAt, o.UpdatedAt, o.Version,
	)
	return execInsert(ctx, r.txManager.GetQuerier(ctx), q, "order", o.ID)
}

func (r *OrderRepo) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.get(ctx, id, false)
}

func (r *OrderRepo) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.get(ctx, id, true)
}

func (r *OrderRepo) get(ctx context.Context, id string, lock bool) (*order.Order, error) {
	q := builder().Select(orderColumns...).From("orders").Where(squirrel.Eq{"id": id})
	if lock {
		q = q.Suffix("FOR UPDATE")
	}
	var row orderRow
	if err := selectOne(ctx, r.txManager.GetQuerier(ctx), &row, q, "order", id); err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *OrderRepo) Update(ctx context.Context, o *order.Order, expected order.Status) error {
	q := builder().Update("orders").
		Set("status", o.Status).
		Set("notes", o.Notes).
		Set("updated_at", o.UpdatedAt).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"id": o.ID, "status": expected, "version": o.Version})
	if err := execGuarded(ctx, r.txManager.GetQuerier(ctx), q, "order", o.ID); err != nil {
		return err
	}
	o.Version++
	return nil
}

func (r *OrderRepo) ListUnsettled(ctx context.Context, limit int) ([]string, error) {
	q := builder().Select("id").From("orders").
		Where(squirrel.NotEq{"status": []order.Status{order.StatusDelivered, order.StatusReturned}}).
		OrderBy("created_at", "id")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	var ids []string
	if err := selectMany(ctx, r.txManager.GetQuerier(ctx), &ids, q, "order"); err != nil {
		return nil, err
	}
	return ids, nil
}

type productRow struct {
	ID         string          `db:"id"`
	Name       string          `db:"name"`
	SKU        string          `db:"sku"`
	UnitWeight decimal.Decimal `db:"unit_weight"`
	UnitVolume decimal.Decimal `db:"unit_volume"`
	UnitPrice  decimal.Decimal `db:"unit_price"`
}

// Catalog implements packaging.ProductCatalog over the products table.
type Catalog struct {
	txManager *TxManager
}

var _ packaging.ProductCatalog = (*Catalog)(nil)

// NewCatalog creates a product catalog.
func NewCatalog(txManager *TxManager) *Catalog {
	return &Catalog{txManager: txManager}
}

func (c *Catalog) GetProduct(ctx context.Context, id string) (*packaging.Product, error) {
	var row productRow
	q := builder().Select("id", "name", "sku", "unit_weight", "unit_volume", "unit_price").
		From("products").
		Where(squirrel.Eq{"id": id})
	if err := selectOne(ctx, c.txManager.GetQuerier(ctx), &row, q, "product", id); err != nil {
		return nil, err
	}
	return &packaging.Product{
		ID:         row.ID,
		Name:       row.Name,
		SKU:        row.SKU,
		UnitWeight: row.UnitWeight,
		UnitVolume: row.UnitVolume,
		UnitPrice:  row.UnitPrice,
	}, nil
}

// Put inserts or replaces a product.
func (c *Catalog) Put(ctx context.Context, p *packaging.Product) error {
	if p.ID == "" {
		return apperror.NewValidation("product id is required")
	}
	q := builder().Insert("products").
		Columns("id", "name", "sku", "unit_weight", "unit_volume", "unit_price").
		Values(p.ID, p.Name, p.SKU, p.UnitWeight, p.UnitVolume, p.UnitPrice).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, sku = EXCLUDED.sku,
			unit_weight = EXCLUDED.unit_weight, unit_volume = EXCLUDED.unit_volume,
			unit_price = EXCLUDED.unit_price`)
	return execInsert(ctx, c.txManager.GetQuerier(ctx), q, "product", p.ID)
}
