package dto

import (
	"stockflow/internal/domain/fulfillment"
	"stockflow/internal/domain/packaging"
	"stockflow/internal/domain/transport"
)

// --- Request DTOs ---

// PackageStatusRequest asks for a package status change.
type PackageStatusRequest struct {
	Status string `json:"status" binding:"required,package_status"`
	Notes  string `json:"notes" binding:"max=2000"`
}

// AssignTransportRequest hands a package to a transporter.
type AssignTransportRequest struct {
	TransporterID string `json:"transporterId" binding:"required"`
	Notes         string `json:"notes" binding:"max=2000"`
}

// --- Response DTOs ---

// PackageResponse wraps a package.
type PackageResponse struct {
	Message string             `json:"message"`
	Package *packaging.Package `json:"package"`
}

// PackageViewResponse is a package with its transports and returns.
type PackageViewResponse struct {
	Message string `json:"message"`
	*fulfillment.PackageView
}

// TransportResponse wraps a transport.
type TransportResponse struct {
	Message   string               `json:"message"`
	Transport *transport.Transport `json:"transport"`
}

// TransportListResponse lists the transports of a package.
type TransportListResponse struct {
	Message    string                 `json:"message"`
	Transports []*transport.Transport `json:"transports"`
}

// TransportStatusRequest moves a transport along its lifecycle.
type TransportStatusRequest struct {
	Status string `json:"status" binding:"required,transport_status"`
	Notes  string `json:"notes" binding:"max=2000"`
}
