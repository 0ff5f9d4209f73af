package v1

import (
	"github.com/gin-gonic/gin"

	"stockflow/internal/core/security"
	"stockflow/internal/infrastructure/http/v1/handlers"
	"stockflow/internal/infrastructure/http/v1/middleware"
)

// route binds one endpoint to the permission it requires.
type route struct {
	method     string
	path       string
	permission string
	handler    gin.HandlerFunc
}

func registerRoutes(rg *gin.RouterGroup, routes []route) {
	for _, r := range routes {
		rg.Handle(r.method, r.path, middleware.RequirePermission(r.permission), r.handler)
	}
}

// RegisterPackageRoutes registers package and transport endpoints.
func RegisterPackageRoutes(rg *gin.RouterGroup, pkgs *handlers.PackageHandler, transports *handlers.TransportHandler) {
	registerRoutes(rg, []route{
		{"POST", "/package/status/:id", security.PermPackagePack, pkgs.UpdateStatus},
		{"POST", "/package/assign-transport/:id", security.PermTransportAssign, pkgs.AssignTransport},
		{"GET", "/package/:id", security.PermFulfillmentRead, pkgs.Get},
		{"GET", "/package/:id/transports", security.PermFulfillmentRead, pkgs.ListTransports},
		{"PATCH", "/transport/status/:id", security.PermTransportStatus, transports.UpdateStatus},
		{"GET", "/transport/:id", security.PermFulfillmentRead, transports.Get},
	})
}

// RegisterReturnRoutes registers the return workflow endpoints.
func RegisterReturnRoutes(rg *gin.RouterGroup, h *handlers.ReturnHandler) {
	registerRoutes(rg, []route{
		{"POST", "/return/initiate", security.PermReturnInitiate, h.Initiate},
		{"POST", "/return/schedule-pickup/:id", security.PermReturnPickup, h.SchedulePickup},
		{"POST", "/return/picked-up/:id", security.PermReturnPickup, h.PickedUp},
		{"POST", "/return/received/:id", security.PermReturnPickup, h.Received},
		{"POST", "/return/process/:id", security.PermReturnProcess, h.Process},
		{"GET", "/return/:id", security.PermFulfillmentRead, h.Get},
	})
}

// RegisterOrderRoutes registers order placement and lookup.
func RegisterOrderRoutes(rg *gin.RouterGroup, h *handlers.OrderHandler) {
	registerRoutes(rg, []route{
		{"POST", "/orders", security.PermOrderPlace, h.Place},
		{"POST", "/order/pack/:id", security.PermPackagePack, h.PackAll},
		{"GET", "/order/:id", security.PermFulfillmentRead, h.Get},
	})
}

// RegisterInventoryRoutes registers stock intake, items and products.
func RegisterInventoryRoutes(rg *gin.RouterGroup, h *handlers.InventoryHandler) {
	registerRoutes(rg, []route{
		{"POST", "/batches", security.PermInventoryManage, h.ReceiveBatch},
		{"PUT", "/products/:id", security.PermInventoryManage, h.PutProduct},
		{"GET", "/products/:id", security.PermFulfillmentRead, h.GetProduct},
		{"GET", "/item/:id", security.PermFulfillmentRead, h.GetItem},
	})
}
