package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"stockflow/internal/domain/audit"
	"stockflow/internal/domain/ledger"
	"stockflow/internal/domain/packaging"
)

// --- Request DTOs ---

// ReceiveBatchRequest books an inbound batch into the ledger.
type ReceiveBatchRequest struct {
	ProductID   string           `json:"productId" binding:"required"`
	WarehouseID string           `json:"warehouseId" binding:"required"`
	LotNumber   string           `json:"lotNumber,omitempty" binding:"max=100"`
	Quantity    int              `json:"quantity" binding:"required,gt=0,max=100000"`
	ReceivedAt  *time.Time       `json:"receivedAt,omitempty"`
	ExpiresAt   *time.Time       `json:"expiresAt,omitempty"`
	UnitPrice   *decimal.Decimal `json:"unitPrice,omitempty"`
}

// ToInput converts the request to the ledger input.
func (r *ReceiveBatchRequest) ToInput() ledger.ReceiveInput {
	in := ledger.ReceiveInput{
		ProductID:   r.ProductID,
		WarehouseID: r.WarehouseID,
		LotNumber:   r.LotNumber,
		Quantity:    r.Quantity,
		ExpiresAt:   r.ExpiresAt,
		UnitPrice:   r.UnitPrice,
	}
	if r.ReceivedAt != nil {
		in.ReceivedAt = r.ReceivedAt.UTC()
	}
	return in
}

// PutProductRequest registers or replaces a product in the catalog.
type PutProductRequest struct {
	Name       string          `json:"name" binding:"required,max=200"`
	SKU        string          `json:"sku" binding:"max=100"`
	UnitWeight decimal.Decimal `json:"unitWeight"`
	UnitVolume decimal.Decimal `json:"unitVolume"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
}

// ToProduct converts the request to a catalog product.
func (r *PutProductRequest) ToProduct(productID string) *packaging.Product {
	return &packaging.Product{
		ID:         productID,
		Name:       r.Name,
		SKU:        r.SKU,
		UnitWeight: r.UnitWeight,
		UnitVolume: r.UnitVolume,
		UnitPrice:  r.UnitPrice,
	}
}

// --- Response DTOs ---

// BatchResponse is a received batch with its items.
type BatchResponse struct {
	Message string         `json:"message"`
	Batch   *ledger.Batch  `json:"batch"`
	Items   []*ledger.Item `json:"items"`
}

// ItemResponse wraps an item with its history.
type ItemResponse struct {
	Message string       `json:"message"`
	Item    *ledger.Item `json:"item"`
}

// ProductResponse wraps a product.
type ProductResponse struct {
	Message string             `json:"message"`
	Product *packaging.Product `json:"product"`
}

// AuditEntryResponse is one audit record.
type AuditEntryResponse struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	UserID    string         `json:"userId,omitempty"`
	Value     any            `json:"value,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditResponse lists the history of one entity.
type AuditResponse struct {
	Message    string               `json:"message"`
	EntityType string               `json:"entityType"`
	EntityID   string               `json:"entityId"`
	Entries    []AuditEntryResponse `json:"entries"`
}

// FromAuditEntries converts audit entries for the response.
func FromAuditEntries(entries []audit.Entry) []AuditEntryResponse {
	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntryResponse{
			ID:        e.ID.String(),
			Action:    e.Action,
			UserID:    e.UserID,
			Value:     e.Value,
			Details:   e.Details,
			Timestamp: e.Timestamp,
		})
	}
	return out
}
