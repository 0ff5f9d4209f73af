package handlers

import (
	"github.com/gin-gonic/gin"

	"stockflow/internal/domain/fulfillment"
	"stockflow/internal/domain/packaging"
	"stockflow/internal/infrastructure/http/v1/dto"
)

// PackageHandler handles package status and transport assignment.
type PackageHandler struct {
	*BaseHandler
	svc *fulfillment.Service
}

// NewPackageHandler creates a new package handler.
func NewPackageHandler(base *BaseHandler, svc *fulfillment.Service) *PackageHandler {
	return &PackageHandler{BaseHandler: base, svc: svc}
}

// UpdateStatus handles POST /package/status/:id.
func (h *PackageHandler) UpdateStatus(c *gin.Context) {
	packageID, ok := h.PathID(c)
	if !ok {
		return
	}
	var req dto.PackageStatusRequest
	if !h.BindJSON(c, &req) {
		return
	}

	pkg, err := h.svc.SetPackageStatus(c.Request.Context(), packageID, packaging.Status(req.Status), req.Notes)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.PackageResponse{Message: "Package status updated", Package: pkg})
}

// AssignTransport handles POST /package/assign-transport/:id.
func (h *PackageHandler) AssignTransport(c *gin.Context) {
	packageID, ok := h.PathID(c)
	if !ok {
		return
	}
	var req dto.AssignTransportRequest
	if !h.BindJSON(c, &req) {
		return
	}

	tr, err := h.svc.Transports.Assign(c.Request.Context(), packageID, req.TransporterID, req.Notes)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.TransportResponse{Message: "Transport assigned", Transport: tr})
}

// Get handles GET /package/:id.
func (h *PackageHandler) Get(c *gin.Context) {
	packageID, ok := h.PathID(c)
	if !ok {
		return
	}

	view, err := h.svc.GetPackage(c.Request.Context(), packageID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.PackageViewResponse{Message: "Package retrieved", PackageView: view})
}

// ListTransports handles GET /package/:id/transports.
func (h *PackageHandler) ListTransports(c *gin.Context) {
	packageID, ok := h.PathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if _, err := h.svc.Packages.Get(ctx, packageID); err != nil {
		h.Error(c, err)
		return
	}
	list, err := h.svc.Transports.ListByPackage(ctx, packageID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.TransportListResponse{Message: "Transports retrieved", Transports: list})
}
