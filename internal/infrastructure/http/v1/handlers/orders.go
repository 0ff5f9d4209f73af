package handlers

import (
	"github.com/gin-gonic/gin"

	"stockflow/internal/domain/fulfillment"
	"stockflow/internal/infrastructure/http/v1/dto"
)

// OrderHandler places and reads orders.
type OrderHandler struct {
	*BaseHandler
	svc *fulfillment.Service
}

// NewOrderHandler creates a new order handler.
func NewOrderHandler(base *BaseHandler, svc *fulfillment.Service) *OrderHandler {
	return &OrderHandler{BaseHandler: base, svc: svc}
}

// Place handles POST /orders.
func (h *OrderHandler) Place(c *gin.Context) {
	var req dto.PlaceOrderRequest
	if !h.BindJSON(c, &req) {
		return
	}

	res, err := h.svc.PlaceOrder(c.Request.Context(), req.ToInput())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.PlaceOrderResponse{Message: "Order placed", PlaceOrderResult: res})
}

// Get handles GET /order/:id.
func (h *OrderHandler) Get(c *gin.Context) {
	orderID, ok := h.PathID(c)
	if !ok {
		return
	}

	view, err := h.svc.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.OrderResponse{Message: "Order retrieved", OrderView: view})
}

// PackAll handles POST /order/pack/:id and packs every created package of the order.
func (h *OrderHandler) PackAll(c *gin.Context) {
	orderID, ok := h.PathID(c)
	if !ok {
		return
	}
	var req dto.NotesRequest
	if c.Request.ContentLength != 0 && !h.BindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.svc.Packages.PackOrder(ctx, orderID, req.Notes); err != nil {
		h.Error(c, err)
		return
	}
	view, err := h.svc.GetOrder(ctx, orderID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.OrderResponse{Message: "Order packed", OrderView: view})
}
