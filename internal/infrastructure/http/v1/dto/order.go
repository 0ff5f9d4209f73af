package dto

import (
	"stockflow/internal/domain/allocation"
	"stockflow/internal/domain/fulfillment"
)

// OrderLineRequest is one requested product.
type OrderLineRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

// PlaceOrderRequest places a new order.
type PlaceOrderRequest struct {
	CustomerRef string             `json:"customerRef" binding:"max=200"`
	WarehouseID string             `json:"warehouseId" binding:"required"`
	Lines       []OrderLineRequest `json:"lines" binding:"required,min=1,dive"`
	Notes       string             `json:"notes" binding:"max=2000"`
}

// ToInput converts the request to the service input.
func (r *PlaceOrderRequest) ToInput() fulfillment.PlaceOrderInput {
	lines := make([]allocation.Line, 0, len(r.Lines))
	for _, l := range r.Lines {
		lines = append(lines, allocation.Line{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return fulfillment.PlaceOrderInput{
		CustomerRef: r.CustomerRef,
		WarehouseID: r.WarehouseID,
		Lines:       lines,
		Notes:       r.Notes,
	}
}

// PlaceOrderResponse is the placed order with its packages.
type PlaceOrderResponse struct {
	Message string `json:"message"`
	*fulfillment.PlaceOrderResult
}

// OrderResponse is an order with its packages.
type OrderResponse struct {
	Message string `json:"message"`
	*fulfillment.OrderView
}
