package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"stockflow/internal/domain/packaging"
)

var packageColumns = []string{
	"id", "order_id", "warehouse_id", "allocations", "item_ids", "released_item_ids", "status",
	"total_weight", "total_volume", "total_value",
	"packed_by", "packed_at", "notes", "created_at", "updated_at", "version",
}

// openPackageStatuses are the statuses before delivery.
var openPackageStatuses = []packaging.Status{
	packaging.StatusCreated,
	packaging.StatusReadyForDispatch,
	packaging.StatusDispatched,
	packaging.StatusInTransit,
}

type packageRow struct {
	ID          string                      `db:"id"`
	OrderID     string                      `db:"order_id"`
	WarehouseID string                      `db:"warehouse_id"`
	Allocations []packaging.AllocationEntry `db:"allocations"`
	ItemIDs     []string                    `db:"item_ids"`
	Released    []string                    `db:"released_item_ids"`
	Status      packaging.Status            `db:"status"`
	TotalWeight decimal.Decimal             `db:"total_weight"`
	TotalVolume decimal.Decimal             `db:"total_volume"`
	TotalValue  decimal.Decimal             `db:"total_value"`
	PackedBy    string                      `db:"packed_by"`
	PackedAt    *time.Time                  `db:"packed_at"`
	Notes       string                      `db:"notes"`
	CreatedAt   time.Time                   `db:"created_at"`
	UpdatedAt   time.Time                   `db:"updated_at"`
	Version     int                         `db:"version"`
}

func (r *packageRow) toDomain() *packaging.Package {
	return &packaging.Package{
		ID:          r.ID,
		OrderID:     r.OrderID,
		WarehouseID: r.WarehouseID,
		Allocations: r.Allocations,
		Released:    r.Released,
		Status:      r.Status,
		Totals: packaging.Totals{
			Weight: r.TotalWeight,
			Volume: r.TotalVolume,
			Value:  r.TotalValue,
		},
		PackedBy:  r.PackedBy,
		PackedAt:  r.PackedAt,
		Notes:     r.Notes,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Version:   r.Version,
	}
}

func packagesToDomain(rows []*packageRow) []*packaging.Package {
	out := make([]*packaging.Package, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out
}

// PackageRepo implements packaging.Repository.
// item_ids holds the items the package still holds, so open packages can be
// found by item; items released by a processed return drop out of it.
type PackageRepo struct {
	txManager *TxManager
}

var _ packaging.Repository = (*PackageRepo)(nil)

// NewPackageRepo creates a package repository.
func NewPackageRepo(txManager *TxManager) *PackageRepo {
	return &PackageRepo{txManager: txManager}
}

func (r *PackageRepo) Create(ctx context.Context, p *packaging.Package) error {
	allocations, err := json.Marshal(p.Allocations)
	if err != nil {
		return fmt.Errorf("marshal allocations: %w", err)
	}
	q := builder().Insert("packages").Columns(packageColumns...).Values(
		p.ID, p.OrderID, p.WarehouseID, allocations, nonNilStrings(p.HeldItemIDs()), nonNilStrings(p.Released), p.Status,
		p.Totals.Weight, p.Totals.Volume, p.Totals.Value,
		p.PackedBy, p.PackedAt, p.Notes, p.CreatedAt, p.UpdatedAt, p.Version,
	)
	return execInsert(ctx, r.txManager.GetQuerier(ctx), q, "package", p.ID)
}

func (r *PackageRepo) GetByID(ctx context.Context, id string) (*packaging.Package, error) {
	return r.get(ctx, id, false)
}

func (r *PackageRepo) GetForUpdate(ctx context.Context, id string) (*packaging.Package, error) {
	return r.get(ctx, id, true)
}

func (r *PackageRepo) get(ctx context.Context, id string, lock bool) (*packaging.Package, error) {
	q := builder().Select(packageColumns...).From("packages").Where(squirrel.Eq{"id": id})
	if lock {
		q = q.Suffix("FOR UPDATE")
	}
	var row packageRow
	if err := selectOne(ctx, r.txManager.GetQuerier(ctx), &row, q, "package", id); err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *PackageRepo) ListByOrder(ctx context.Context, orderID string) ([]*packaging.Package, error) {
	var rows []*packageRow
	q := builder().Select(packageColumns...).From("packages").
		Where(squirrel.Eq{"order_id": orderID}).
		OrderBy("id")
	if err := selectMany(ctx, r.txManager.GetQuerier(ctx), &rows, q, "package"); err != nil {
		return nil, err
	}
	return packagesToDomain(rows), nil
}

func (r *PackageRepo) ListOpenByItems(ctx context.Context, itemIDs []string) ([]*packaging.Package, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	var rows []*packageRow
	q := builder().Select(packageColumns...).From("packages").
		Where("item_ids && ?", itemIDs).
		Where(squirrel.Eq{"status": openPackageStatuses}).
		OrderBy("id")
	if err := selectMany(ctx, r.txManager.GetQuerier(ctx), &rows, q, "package"); err != nil {
		return nil, err
	}
	return packagesToDomain(rows), nil
}

func (r *PackageRepo) Update(ctx context.Context, p *packaging.Package, expected packaging.Status) error {
	allocations, err := json.Marshal(p.Allocations)
	if err != nil {
		return fmt.Errorf("marshal allocations: %w", err)
	}
	q := builder().Update("packages").
		Set("allocations", allocations).
		Set("item_ids", nonNilStrings(p.HeldItemIDs())).
		Set("released_item_ids", nonNilStrings(p.Released)).
		Set("status", p.Status).
		Set("total_weight", p.Totals.Weight).
		Set("total_volume", p.Totals.Volume).
		Set("total_value", p.Totals.Value).
		Set("packed_by", p.PackedBy).
		Set("packed_at", p.PackedAt).
		Set("notes", p.Notes).
		Set("updated_at", p.UpdatedAt).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"id": p.ID, "status": expected, "version": p.Version})
	if err := execGuarded(ctx, r.txManager.GetQuerier(ctx), q, "package", p.ID); err != nil {
		return err
	}
	p.Version++
	return nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
