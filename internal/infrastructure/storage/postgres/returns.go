package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"stockflow/internal/domain/returns"
)

var returnColumns = []string{
	"id", "number", "package_id", "order_id", "warehouse_id", "items", "reason", "status",
	"disposition", "transport_id", "return_date", "received_date", "processed_date",
	"initiated_by", "processed_by", "notes", "created_at", "updated_at", "version",
}

type returnRow struct {
	ID            string              `db:"id"`
	Number        string              `db:"number"`
	PackageID     string              `db:"package_id"`
	OrderID       string              `db:"order_id"`
	WarehouseID   string              `db:"warehouse_id"`
	Items         []returns.Item      `db:"items"`
	Reason        returns.Reason      `db:"reason"`
	Status        returns.Status      `db:"status"`
	Disposition   returns.Disposition `db:"disposition"`
	TransportID   string              `db:"transport_id"`
	ReturnDate    time.Time           `db:"return_date"`
	ReceivedDate  *time.Time          `db:"received_date"`
	ProcessedDate *time.Time          `db:"processed_date"`
	InitiatedBy   string              `db:"initiated_by"`
	ProcessedBy   string              `db:"processed_by"`
	Notes         string              `db:"notes"`
	CreatedAt     time.Time           `db:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at"`
	Version       int                 `db:"version"`
}

func (r *returnRow) toDomain() *returns.Return {
	return &returns.Return{
		ID:            r.ID,
		Number:        r.Number,
		PackageID:     r.PackageID,
		OrderID:       r.OrderID,
		WarehouseID:   r.WarehouseID,
		Items:         r.Items,
		Reason:        r.Reason,
		Status:        r.Status,
		Disposition:   r.Disposition,
		TransportID:   r.TransportID,
		ReturnDate:    r.ReturnDate,
		ReceivedDate:  r.ReceivedDate,
		ProcessedDate: r.ProcessedDate,
		InitiatedBy:   r.InitiatedBy,
		ProcessedBy:   r.ProcessedBy,
		Notes:         r.Notes,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		Version:       r.Version,
	}
}

// ReturnRepo implements returns.Repository.
type ReturnRepo struct {
	txManager *TxManager
}

var _ returns.Repository = (*ReturnRepo)(nil)

// NewReturnRepo creates a return repository.
func NewReturnRepo(txManager *TxManager) *ReturnRepo {
	return &ReturnRepo{txManager: txManager}
}

func (r *ReturnRepo) Create(ctx context.Context, ret *returns.Return) error {
	items, err := json.Marshal(ret.Items)
	if err != nil {
		return fmt.Errorf("marshal return items: %w", err)
	}
	q := builder().Insert("returns").Columns(returnColumns...).Values(
		ret.ID, ret.Number, ret.PackageID, ret.OrderID, ret.WarehouseID, items, ret.Reason, ret.Status,
		ret.Disposition, ret.TransportID, ret.ReturnDate, ret.ReceivedDate, ret.ProcessedDate,
		ret.InitiatedBy, ret.ProcessedBy, ret.Notes, ret.CreatedAt, ret.UpdatedAt, ret.Version,
	)
	return execInsert(ctx, r.txManager.GetQuerier(ctx), q, "return", ret.ID)
}

func (r *ReturnRepo) GetByID(ctx context.Context, id string) (*returns.Return, error) {
	return r.get(ctx, id, false)
}

func (r *ReturnRepo) GetForUpdate(ctx context.Context, id string) (*returns.Return, error) {
	return r.get(ctx, id, true)
}

func (r *ReturnRepo) get(ctx context.Context, id string, lock bool) (*returns.Return, error) {
	q := builder().Select(returnColumns...).From("returns").Where(squirrel.Eq{"id": id})
	if lock {
		q = q.Suffix("FOR UPDATE")
	}
	var row returnRow
	if err := selectOne(ctx, r.txManager.GetQuerier(ctx), &row, q, "return", id); err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *ReturnRepo) ListByPackage(ctx context.Context, packageID string) ([]*returns.Return, error) {
	var rows []*returnRow
	q := builder().Select(returnColumns...).From("returns").
		Where(squirrel.Eq{"package_id": packageID}).
		OrderBy("id")
	if err := selectMany(ctx, r.txManager.GetQuerier(ctx), &rows, q, "return"); err != nil {
		return nil, err
	}
	out := make([]*returns.Return, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (r *ReturnRepo) Update(ctx context.Context, ret *returns.Return, expected returns.Status) error {
	items, err := json.Marshal(ret.Items)
	if err != nil {
		return fmt.Errorf("marshal return items: %w", err)
	}
	q := builder().Update("returns").
		Set("items", items).
		Set("status", ret.Status).
		Set("disposition", ret.Disposition).
		Set("transport_id", ret.TransportID).
		Set("received_date", ret.ReceivedDate).
		Set("processed_date", ret.ProcessedDate).
		Set("processed_by", ret.ProcessedBy).
		Set("notes", ret.Notes).
		Set("updated_at", ret.UpdatedAt).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"id": ret.ID, "status": expected, "version": ret.Version})
	if err := execGuarded(ctx, r.txManager.GetQuerier(ctx), q, "return", ret.ID); err != nil {
		return err
	}
	ret.Version++
	return nil
}
