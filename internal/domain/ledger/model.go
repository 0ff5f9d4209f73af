// Package ledger tracks batches and the lifecycle of every physical item.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"stockflow/internal/core/apperror"
)

// HistoryEntry is one append-only record in an item's history.
type HistoryEntry struct {
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	Notes     string    `json:"notes,omitempty"`
	Reference string    `json:"reference,omitempty"`
}

// Item is one physical unit of a product, owned by the batch that produced it.
type Item struct {
	ID        string         `json:"id"`
	ProductID string         `json:"productId"`
	BatchID   string         `json:"batchId"`
	Status    ItemStatus     `json:"status"`
	History   []HistoryEntry `json:"history"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Version   int            `json:"-"`
}

// Transition moves the item to status to and appends a history entry named after it.
func (i *Item) Transition(to ItemStatus, notes, reference string, at time.Time) error {
	if !i.Status.CanTransitionTo(to) {
		return apperror.NewInvalidStateTransition("item", i.Status, to).
			WithDetail("item_id", i.ID)
	}
	i.Status = to
	i.UpdatedAt = at
	i.History = append(i.History, HistoryEntry{
		Action:    string(to),
		Timestamp: at,
		Notes:     notes,
		Reference: reference,
	})
	return nil
}

// LastEntry returns the most recent history entry, if any.
func (i *Item) LastEntry() (HistoryEntry, bool) {
	if len(i.History) == 0 {
		return HistoryEntry{}, false
	}
	return i.History[len(i.History)-1], true
}

// Clone returns a deep copy.
func (i *Item) Clone() *Item {
	c := *i
	c.History = append([]HistoryEntry(nil), i.History...)
	return &c
}

// Batch is a received lot of one product.
type Batch struct {
	ID          string           `json:"id"`
	ProductID   string           `json:"productId"`
	WarehouseID string           `json:"warehouseId"`
	LotNumber   string           `json:"lotNumber,omitempty"`
	ReceivedAt  time.Time        `json:"receivedAt"`
	ExpiresAt   *time.Time       `json:"expiresAt,omitempty"`
	UnitPrice   *decimal.Decimal `json:"unitPrice,omitempty"`
	Closed      bool             `json:"closed"`
	CreatedAt   time.Time        `json:"createdAt"`
	Version     int              `json:"-"`
}

// IsOpen reports whether items of the batch can be allocated at t.
func (b *Batch) IsOpen(t time.Time) bool {
	if b.Closed {
		return false
	}
	return b.ExpiresAt == nil || b.ExpiresAt.After(t)
}

// Clone returns a deep copy.
func (b *Batch) Clone() *Batch {
	c := *b
	if b.ExpiresAt != nil {
		e := *b.ExpiresAt
		c.ExpiresAt = &e
	}
	if b.UnitPrice != nil {
		p := *b.UnitPrice
		c.UnitPrice = &p
	}
	return &c
}
