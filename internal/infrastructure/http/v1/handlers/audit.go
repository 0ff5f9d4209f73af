package handlers

import (
	"github.com/gin-gonic/gin"

	"stockflow/internal/core/apperror"
	"stockflow/internal/domain/audit"
	"stockflow/internal/infrastructure/http/v1/dto"
)

var auditEntities = map[string]bool{
	audit.EntityBatch:     true,
	audit.EntityItem:      true,
	audit.EntityPackage:   true,
	audit.EntityTransport: true,
	audit.EntityReturn:    true,
	audit.EntityOrder:     true,
}

// AuditHandler serves the recorded history of an entity.
type AuditHandler struct {
	*BaseHandler
	reader audit.Reader
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(base *BaseHandler, reader audit.Reader) *AuditHandler {
	return &AuditHandler{BaseHandler: base, reader: reader}
}

// History handles GET /audit/:entity/:id?limit=N.
func (h *AuditHandler) History(c *gin.Context) {
	entity := c.Param("entity")
	if !auditEntities[entity] {
		h.Error(c, apperror.NewValidation("unknown entity type").WithDetail("entity", entity))
		return
	}
	entityID, ok := h.PathID(c)
	if !ok {
		return
	}
	limit := h.ParseIntQuery(c, "limit", 100)
	if limit <= 0 || limit > 1000 {
		h.Error(c, apperror.NewValidation("limit must be between 1 and 1000"))
		return
	}

	entries, err := h.reader.History(c.Request.Context(), entity, entityID, limit)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.AuditResponse{
		Message:    "Audit history retrieved",
		EntityType: entity,
		EntityID:   entityID,
		Entries:    dto.FromAuditEntries(entries),
	})
}
