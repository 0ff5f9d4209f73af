package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"stockflow/internal/domain/ledger"
)

var (
	batchColumns = []string{
		"id", "product_id", "warehouse_id", "lot_number", "received_at",
		"expires_at", "unit_price", "closed", "created_at", "version",
	}
	itemColumns = []string{
		"id", "product_id", "batch_id", "status", "history", "created_at", "updated_at", "version",
	}
)

type batchRow struct {
	ID          string           `db:"id"`
	ProductID   string           `db:"product_id"`
	WarehouseID string           `db:"warehouse_id"`
	LotNumber   string           `db:"lot_number"`
	ReceivedAt  time.Time        `db:"received_at"`
	ExpiresAt   *time.Time       `db:"expires_at"`
	UnitPrice   *decimal.Decimal `db:"unit_price"`
	Closed      bool             `db:"closed"`
	CreatedAt   time.Time        `db:"created_at"`
	Version     int              `db:"version"`
}

func (r *batchRow) toDomain() *ledger.Batch {
	return &ledger.Batch{
		ID:          r.ID,
		ProductID:   r.ProductID,
		WarehouseID: r.WarehouseID,
		LotNumber:   r.LotNumber,
		ReceivedAt:  r.ReceivedAt,
		ExpiresAt:   r.ExpiresAt,
		UnitPrice:   r.UnitPrice,
		Closed:      r.Closed,
		CreatedAt:   r.CreatedAt,
		Version:     r.Version,
	}
}

type itemRow struct {
	ID        string                `db:"id"`
	ProductID string                `db:"product_id"`
	BatchID   string                `db:"batch_id"`
	Status    ledger.ItemStatus     `db:"status"`
	History   []ledger.HistoryEntry `db:"history"`
	CreatedAt time.Time             `db:"created_at"`
	UpdatedAt time.Time             `db:"updated_at"`
	Version   int                   `db:"version"`
}

func (r *itemRow) toDomain() *ledger.Item {
	return &ledger.Item{
		ID:        r.ID,
		ProductID: r.ProductID,
		BatchID:   r.BatchID,
		Status:    r.Status,
		History:   r.History,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Version:   r.Version,
	}
}

func itemsToDomain(rows []*itemRow) []*ledger.Item {
	out := make([]*ledger.Item, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out
}

// LedgerRepo implements ledger.Repository over the batches and items tables.
type LedgerRepo struct {
	txManager *TxManager
}

var _ ledger.Repository = (*LedgerRepo)(nil)

// NewLedgerRepo creates a ledger repository.
func NewLedgerRepo(txManager *TxManager) *LedgerRepo {
	return &LedgerRepo{txManager: txManager}
}

func (r *LedgerRepo) CreateBatch(ctx context.Context, b *ledger.Batch) error {
	q := builder().Insert("batches").Columns(batchColumns...).Values(
		b.ID, b.ProductID, b.WarehouseID, b.LotNumber, b.ReceivedAt,
		b.ExpiresAt, b.UnitPrice, b.Closed, b.CreatedAt, b.Version,
	)
	return execInsert(ctx, r.txManager.GetQuerier(ctx), q, "batch", b.ID)
}

func (r *LedgerRepo) GetBatch(ctx context.Context, id string) (*ledger.Batch, error) {
	var row batchRow
	q := builder().Select(batchColumns...).From("batches").Where(squirrel.Eq{"id": id})
	if err := selectOne(ctx, r.txManager.GetQuerier(ctx), &row, q, "batch", id); err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *LedgerRepo) UpdateBatch(ctx context.Context, b *ledger.Batch) error {
	q := builder().Update("batches").
		Set("lot_number", b.LotNumber).
		Set("expires_at", b.ExpiresAt).
		Set("unit_price", b.UnitPrice).
		Set("closed", b.Closed).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"id": b.ID, "version": b.Version})
	if err := execGuarded(ctx, r.txManager.GetQuerier(ctx), q, "batch", b.ID); err != nil {
		return err
	}
	b.Version++
	return nil
}

func (r *LedgerRepo) ListOpenBatches(ctx context.Context, productID string, at time.Time) ([]*ledger.Batch, error) {
	var rows []*batchRow
	q := builder().Select(batchColumns...).From("batches").
		Where(squirrel.Eq{"product_id": productID, "closed": false}).
		Where(squirrel.Or{squirrel.Eq{"expires_at": nil}, squirrel.Gt{"expires_at": at}})
	if err := selectMany(ctx, r.txManager.GetQuerier(ctx), &rows, q, "batch"); err != nil {
		return nil, err
	}
	out := make([]*ledger.Batch, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// CreateItems bulk-loads items with COPY.
func (r *LedgerRepo) CreateItems(ctx context.Context, items []*ledger.Item) error {
	rows := make([][]any, 0, len(items))
	for _, it := range items {
		history, err := json.Marshal(historyOrEmpty(it.History))
		if err != nil {
			return fmt.Errorf("marshal item history: %w", err)
		}
		rows = append(rows, []any{
			it.ID, it.ProductID, it.BatchID, string(it.Status), history, it.CreatedAt, it.UpdatedAt, it.Version,
		})
	}
	if _, err := copyRows(ctx, r.txManager.GetQuerier(ctx), "items", itemColumns, rows); err != nil {
		first := ""
		if len(items) > 0 {
			first = items[0].BatchID
		}
		return mapWriteError(err, "item", first)
	}
	return nil
}

func (r *LedgerRepo) GetItem(ctx context.Context, id string) (*ledger.Item, error) {
	var row itemRow
	q := builder().Select(itemColumns...).From("items").Where(squirrel.Eq{"id": id})
	if err := selectOne(ctx, r.txManager.GetQuerier(ctx), &row, q, "item", id); err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *LedgerRepo) GetItems(ctx context.Context, ids []string) ([]*ledger.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []*itemRow
	q := builder().Select(itemColumns...).From("items").
		Where(squirrel.Eq{"id": ids}).
		OrderBy("id")
	if err := selectMany(ctx, r.txManager.GetQuerier(ctx), &rows, q, "item"); err != nil {
		return nil, err
	}
	return itemsToDomain(rows), nil
}

// GetItemsForUpdate locks rows in id order so concurrent callers cannot deadlock.
func (r *LedgerRepo) GetItemsForUpdate(ctx context.Context, ids []string) ([]*ledger.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []*itemRow
	q := builder().Select(itemColumns...).From("items").
		Where(squirrel.Eq{"id": ids}).
		OrderBy("id").
		Suffix("FOR UPDATE")
	if err := selectMany(ctx, r.txManager.GetQuerier(ctx), &rows, q, "item"); err != nil {
		return nil, err
	}
	return itemsToDomain(rows), nil
}

func (r *LedgerRepo) ListInStock(ctx context.Context, batchID string, limit int) ([]*ledger.Item, error) {
	var rows []*itemRow
	q := builder().Select(itemColumns...).From("items").
		Where(squirrel.Eq{"batch_id": batchID, "status": ledger.ItemInStock}).
		OrderBy("id").
		Suffix("FOR UPDATE")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if err := selectMany(ctx, r.txManager.GetQuerier(ctx), &rows, q, "item"); err != nil {
		return nil, err
	}
	return itemsToDomain(rows), nil
}

func (r *LedgerRepo) UpdateItem(ctx context.Context, item *ledger.Item, expected ledger.ItemStatus) error {
	history, err := json.Marshal(historyOrEmpty(item.History))
	if err != nil {
		return fmt.Errorf("marshal item history: %w", err)
	}
	q := builder().Update("items").
		Set("status", item.Status).
		Set("history", history).
		Set("updated_at", item.UpdatedAt).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"id": item.ID, "status": expected, "version": item.Version})
	if err := execGuarded(ctx, r.txManager.GetQuerier(ctx), q, "item", item.ID); err != nil {
		return err
	}
	item.Version++
	return nil
}

func historyOrEmpty(h []ledger.HistoryEntry) []ledger.HistoryEntry {
	if h == nil {
		return []ledger.HistoryEntry{}
	}
	return h
}
