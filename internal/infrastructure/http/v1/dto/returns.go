package dto

import (
	"stockflow/internal/domain/returns"
)

// ReturnItemRequest is one returned group of units.
type ReturnItemRequest struct {
	ProductID string   `json:"productId" binding:"required"`
	BatchID   string   `json:"batchId" binding:"required"`
	Quantity  int      `json:"quantity" binding:"required,gt=0"`
	ItemIDs   []string `json:"itemIds" binding:"required,min=1,dive,required"`
}

// InitiateReturnRequest opens a return against a package.
type InitiateReturnRequest struct {
	PackageID string              `json:"packageId" binding:"required"`
	Items     []ReturnItemRequest `json:"items" binding:"required,min=1,dive"`
	Reason    string              `json:"reason" binding:"required,return_reason"`
	Notes     string              `json:"notes" binding:"max=2000"`
}

// ToInput converts the request to the processor input.
func (r *InitiateReturnRequest) ToInput() returns.InitiateInput {
	items := make([]returns.Item, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, returns.Item{
			ProductID: it.ProductID,
			BatchID:   it.BatchID,
			Quantity:  it.Quantity,
			ItemIDs:   append([]string(nil), it.ItemIDs...),
		})
	}
	return returns.InitiateInput{
		PackageID: r.PackageID,
		Items:     items,
		Reason:    returns.Reason(r.Reason),
		Notes:     r.Notes,
	}
}

// SchedulePickupRequest books the reverse transport.
type SchedulePickupRequest struct {
	TransporterID string `json:"transporterId" binding:"required"`
	Notes         string `json:"notes" binding:"max=2000"`
}

// ProcessReturnRequest settles the returned items.
type ProcessReturnRequest struct {
	Disposition string `json:"disposition" binding:"required,disposition"`
	Notes       string `json:"notes" binding:"max=2000"`
}

// ReturnResponse wraps a return.
type ReturnResponse struct {
	Message string          `json:"message"`
	Return  *returns.Return `json:"return"`
}
