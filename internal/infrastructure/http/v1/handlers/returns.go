package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"stockflow/internal/domain/returns"
	"stockflow/internal/infrastructure/http/v1/dto"
)

// ReturnHandler drives the return workflow.
type ReturnHandler struct {
	*BaseHandler
	returns *returns.Processor
}

// NewReturnHandler creates a new return handler.
func NewReturnHandler(base *BaseHandler, processor *returns.Processor) *ReturnHandler {
	return &ReturnHandler{BaseHandler: base, returns: processor}
}

// Initiate handles POST /return/initiate.
func (h *ReturnHandler) Initiate(c *gin.Context) {
	var req dto.InitiateReturnRequest
	if !h.BindJSON(c, &req) {
		return
	}

	ret, err := h.returns.Initiate(c.Request.Context(), req.ToInput())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.ReturnResponse{Message: "Return initiated", Return: ret})
}

// SchedulePickup handles POST /return/schedule-pickup/:id.
func (h *ReturnHandler) SchedulePickup(c *gin.Context) {
	returnID, ok := h.PathID(c)
	if !ok {
		return
	}
	var req dto.SchedulePickupRequest
	if !h.BindJSON(c, &req) {
		return
	}

	ret, err := h.returns.SchedulePickup(c.Request.Context(), returnID, req.TransporterID, req.Notes)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.ReturnResponse{Message: "Return pickup scheduled", Return: ret})
}

// PickedUp handles POST /return/picked-up/:id.
func (h *ReturnHandler) PickedUp(c *gin.Context) {
	h.notesTransition(c, "Return marked as picked up", h.returns.MarkPickedUp)
}

// Received handles POST /return/received/:id.
func (h *ReturnHandler) Received(c *gin.Context) {
	h.notesTransition(c, "Return received", h.returns.MarkReceived)
}

// Process handles POST /return/process/:id.
func (h *ReturnHandler) Process(c *gin.Context) {
	returnID, ok := h.PathID(c)
	if !ok {
		return
	}
	var req dto.ProcessReturnRequest
	if !h.BindJSON(c, &req) {
		return
	}

	ret, err := h.returns.Process(c.Request.Context(), returnID, returns.Disposition(req.Disposition), req.Notes)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.ReturnResponse{Message: "Return processed", Return: ret})
}

// Get handles GET /return/:id.
func (h *ReturnHandler) Get(c *gin.Context) {
	returnID, ok := h.PathID(c)
	if !ok {
		return
	}

	ret, err := h.returns.Get(c.Request.Context(), returnID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.ReturnResponse{Message: "Return retrieved", Return: ret})
}

type returnTransition func(ctx context.Context, returnID, notes string) (*returns.Return, error)

// notesTransition runs a transition whose body is optional notes.
func (h *ReturnHandler) notesTransition(c *gin.Context, message string, apply returnTransition) {
	returnID, ok := h.PathID(c)
	if !ok {
		return
	}
	var req dto.NotesRequest
	if c.Request.ContentLength != 0 && !h.BindJSON(c, &req) {
		return
	}

	ret, err := apply(c.Request.Context(), returnID, req.Notes)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.ReturnResponse{Message: message, Return: ret})
}
