package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"stockflow/internal/domain/ledger"
	"stockflow/internal/domain/packaging"
	"stockflow/internal/infrastructure/http/v1/dto"
)

// ProductWriter registers products in the catalog.
type ProductWriter interface {
	GetProduct(ctx context.Context, id string) (*packaging.Product, error)
	Put(ctx context.Context, p *packaging.Product) error
}

// InventoryHandler handles inbound stock, items and products.
type InventoryHandler struct {
	*BaseHandler
	ledger   *ledger.Service
	products ProductWriter
}

// NewInventoryHandler creates a new inventory handler.
func NewInventoryHandler(base *BaseHandler, ledgerSvc *ledger.Service, products ProductWriter) *InventoryHandler {
	return &InventoryHandler{BaseHandler: base, ledger: ledgerSvc, products: products}
}

// ReceiveBatch handles POST /batches.
func (h *InventoryHandler) ReceiveBatch(c *gin.Context) {
	var req dto.ReceiveBatchRequest
	if !h.BindJSON(c, &req) {
		return
	}

	batch, items, err := h.ledger.Receive(c.Request.Context(), req.ToInput())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.BatchResponse{Message: "Batch received", Batch: batch, Items: items})
}

// GetItem handles GET /item/:id.
func (h *InventoryHandler) GetItem(c *gin.Context) {
	itemID, ok := h.PathID(c)
	if !ok {
		return
	}

	item, err := h.ledger.GetItem(c.Request.Context(), itemID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.ItemResponse{Message: "Item retrieved", Item: item})
}

// PutProduct handles PUT /products/:id.
func (h *InventoryHandler) PutProduct(c *gin.Context) {
	productID, ok := h.PathID(c)
	if !ok {
		return
	}
	var req dto.PutProductRequest
	if !h.BindJSON(c, &req) {
		return
	}

	p := req.ToProduct(productID)
	if err := h.products.Put(c.Request.Context(), p); err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.ProductResponse{Message: "Product saved", Product: p})
}

// GetProduct handles GET /products/:id.
func (h *InventoryHandler) GetProduct(c *gin.Context) {
	productID, ok := h.PathID(c)
	if !ok {
		return
	}

	p, err := h.products.GetProduct(c.Request.Context(), productID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.ProductResponse{Message: "Product retrieved", Product: p})
}
