package handlers

import (
	"github.com/gin-gonic/gin"

	"stockflow/internal/domain/transport"
	"stockflow/internal/infrastructure/http/v1/dto"
)

// TransportHandler handles transport status updates.
type TransportHandler struct {
	*BaseHandler
	transports *transport.Service
}

// NewTransportHandler creates a new transport handler.
func NewTransportHandler(base *BaseHandler, transports *transport.Service) *TransportHandler {
	return &TransportHandler{BaseHandler: base, transports: transports}
}

// UpdateStatus handles PATCH /transport/status/:id.
func (h *TransportHandler) UpdateStatus(c *gin.Context) {
	transportID, ok := h.PathID(c)
	if !ok {
		return
	}
	var req dto.TransportStatusRequest
	if !h.BindJSON(c, &req) {
		return
	}

	tr, err := h.transports.UpdateStatus(c.Request.Context(), transportID, transport.Status(req.Status), req.Notes)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.TransportResponse{Message: "Transport status updated", Transport: tr})
}

// Get handles GET /transport/:id.
func (h *TransportHandler) Get(c *gin.Context) {
	transportID, ok := h.PathID(c)
	if !ok {
		return
	}

	tr, err := h.transports.Get(c.Request.Context(), transportID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.TransportResponse{Message: "Transport retrieved", Transport: tr})
}
