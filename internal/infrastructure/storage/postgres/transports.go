package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"stockflow/internal/core/apperror"
	"stockflow/internal/domain/transport"
)

var transportColumns = []string{
	"id", "package_id", "return_id", "transporter_id", "direction", "assigned_by",
	"status", "history", "notes", "created_at", "updated_at", "version",
}

type transportRow struct {
	ID            string                   `db:"id"`
	PackageID     string                   `db:"package_id"`
	ReturnID      string                   `db:"return_id"`
	TransporterID string                   `db:"transporter_id"`
	Direction     transport.Direction      `db:"direction"`
	AssignedBy    string                   `db:"assigned_by"`
	Status        transport.Status         `db:"status"`
	History       []transport.HistoryEntry `db:"history"`
	Notes         string                   `db:"notes"`
	CreatedAt     time.Time                `db:"created_at"`
	UpdatedAt     time.Time                `db:"updated_at"`
	Version       int                      `db:"version"`
}

func (r *transportRow) toDomain() *transport.Transport {
	return &transport.Transport{
		ID:            r.ID,
		PackageID:     r.PackageID,
		ReturnID:      r.ReturnID,
		TransporterID: r.TransporterID,
		Direction:     r.Direction,
		AssignedBy:    r.AssignedBy,
		Status:        r.Status,
		History:       r.History,
		Notes:         r.Notes,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		Version:       r.Version,
	}
}

// TransportRepo implements transport.Repository. Partial unique indexes keep
// one forward leg per package and one reverse leg per return.
type TransportRepo struct {
	txManager *TxManager
}

var _ transport.Repository = (*TransportRepo)(nil)

// NewTransportRepo creates a transport repository.
func NewTransportRepo(txManager *TxManager) *TransportRepo {
	return &TransportRepo{txManager: txManager}
}

func (r *TransportRepo) Create(ctx context.Context, t *transport.Transport) error {
	history, err := json.Marshal(transportHistory(t.History))
	if err != nil {
		return fmt.Errorf("marshal transport history: %w", err)
	}
	q := builder().Insert("transports").Columns(transportColumns...).Values(
		t.ID, t.PackageID, t.ReturnID, t.TransporterID, t.Direction, t.AssignedBy,
		t.Status, history, t.Notes, t.CreatedAt, t.UpdatedAt, t.Version,
	)
	err = execInsert(ctx, r.txManager.GetQuerier(ctx), q, "transport", t.ID)
	if apperror.Code(err) == apperror.CodeConflict {
		return apperror.NewConflict("an active transport already covers this leg").
			WithDetail("package_id", t.PackageID).
			WithDetail("return_id", t.ReturnID).
			WithDetail("direction", t.Direction.String())
	}
	return err
}

func (r *TransportRepo) GetByID(ctx context.Context, id string) (*transport.Transport, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id}, id, false)
}

func (r *TransportRepo) GetForUpdate(ctx context.Context, id string) (*transport.Transport, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id}, id, true)
}

func (r *TransportRepo) GetActive(ctx context.Context, packageID string) (*transport.Transport, error) {
	return r.getOne(ctx, forwardLeg(packageID), packageID, false)
}

func (r *TransportRepo) GetActiveForReturn(ctx context.Context, returnID string) (*transport.Transport, error) {
	t, err := r.getOne(ctx, reverseLeg(returnID), returnID, false)
	if apperror.IsNotFound(err) {
		return nil, apperror.NewNotFound("transport", returnID).WithDetail("return_id", returnID)
	}
	return t, err
}

func forwardLeg(packageID string) squirrel.Eq {
	return squirrel.Eq{"package_id": packageID, "direction": transport.DirectionForward}
}

func reverseLeg(returnID string) squirrel.Eq {
	return squirrel.Eq{"return_id": returnID, "direction": transport.DirectionReverse}
}

func (r *TransportRepo) getOne(ctx context.Context, where squirrel.Eq, id string, lock bool) (*transport.Transport, error) {
	q := builder().Select(transportColumns...).From("transports").Where(where)
	if lock {
		q = q.Suffix("FOR UPDATE")
	}
	var row transportRow
	if err := selectOne(ctx, r.txManager.GetQuerier(ctx), &row, q, "transport", id); err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *TransportRepo) DeleteActive(ctx context.Context, packageID string) error {
	return r.delete(ctx, forwardLeg(packageID))
}

func (r *TransportRepo) DeleteActiveForReturn(ctx context.Context, returnID string) error {
	return r.delete(ctx, reverseLeg(returnID))
}

func (r *TransportRepo) delete(ctx context.Context, where squirrel.Eq) error {
	sql, args, err := builder().Delete("transports").Where(where).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return apperror.NewDatabase("delete transport", err)
	}
	return nil
}

func (r *TransportRepo) Update(ctx context.Context, t *transport.Transport, expected transport.Status) error {
	history, err := json.Marshal(transportHistory(t.History))
	if err != nil {
		return fmt.Errorf("marshal transport history: %w", err)
	}
	q := builder().Update("transports").
		Set("return_id", t.ReturnID).
		Set("transporter_id", t.TransporterID).
		Set("status", t.Status).
		Set("history", history).
		Set("notes", t.Notes).
		Set("updated_at", t.UpdatedAt).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"id": t.ID, "status": expected, "version": t.Version})
	if err := execGuarded(ctx, r.txManager.GetQuerier(ctx), q, "transport", t.ID); err != nil {
		return err
	}
	t.Version++
	return nil
}

func (r *TransportRepo) ListByPackage(ctx context.Context, packageID string) ([]*transport.Transport, error) {
	var rows []*transportRow
	q := builder().Select(transportColumns...).From("transports").
		Where(squirrel.Eq{"package_id": packageID}).
		OrderBy("id")
	if err := selectMany(ctx, r.txManager.GetQuerier(ctx), &rows, q, "transport"); err != nil {
		return nil, err
	}
	out := make([]*transport.Transport, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func transportHistory(h []transport.HistoryEntry) []transport.HistoryEntry {
	if h == nil {
		return []transport.HistoryEntry{}
	}
	return h
}
