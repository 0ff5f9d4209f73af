// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	appctx "stockflow/internal/core/context"
	"stockflow/internal/core/security"
	"stockflow/internal/domain/audit"
	"stockflow/internal/domain/fulfillment"
	"stockflow/internal/infrastructure/http/v1/dto"
	"stockflow/internal/infrastructure/http/v1/handlers"
	"stockflow/internal/infrastructure/http/v1/middleware"
	"stockflow/internal/infrastructure/idempotency"
	"stockflow/internal/infrastructure/metrics"
	"stockflow/pkg/logger"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	// Service is the fulfillment pipeline
	Service *fulfillment.Service

	// Products registers catalog products
	Products handlers.ProductWriter

	// AuditReader serves entity history; nil disables /audit
	AuditReader audit.Reader

	// Idempotency stores replayable responses; nil disables the middleware
	Idempotency idempotency.Store

	// Metrics collects request metrics and serves /metrics; optional
	Metrics *metrics.Registry

	// Logger for request logging
	Logger *logger.Logger

	// JWTValidator for token validation; nil runs every request as AnonymousUser
	JWTValidator middleware.JWTValidator

	// AnonymousUser is the identity used when JWTValidator is nil
	AnonymousUser *appctx.UserContext

	// RateLimiter throttles API calls; optional
	RateLimiter *middleware.RateLimiter

	// HealthChecks are pinged by /ready
	HealthChecks map[string]handlers.Pinger

	// BasePath prefixes the API routes ("" serves them at the root)
	BasePath string

	// ServiceName names the server spans
	ServiceName string
}

// DefaultAnonymousUser is the identity of unauthenticated requests when
// token auth is disabled.
var DefaultAnonymousUser = appctx.UserContext{
	UserID: appctx.SystemActor,
	Roles:  []string{security.RoleAdmin},
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	dto.RegisterValidators()

	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "stockflow"
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace(cfg.ServiceName))
	router.Use(middleware.RequestContext())
	router.Use(middleware.Logger(cfg.Logger))
	if cfg.Metrics != nil {
		router.Use(middleware.Metrics(cfg.Metrics))
	}
	router.Use(middleware.ErrorHandler())

	// Probes and metrics (no auth)
	healthHandler := handlers.NewHealthHandler(cfg.HealthChecks)
	router.GET("/health", healthHandler.Live)
	router.GET("/ready", healthHandler.Ready)
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := router.Group(cfg.BasePath)
	{
		if cfg.JWTValidator != nil {
			api.Use(middleware.Auth(cfg.JWTValidator))
		} else {
			user := DefaultAnonymousUser
			if cfg.AnonymousUser != nil {
				user = *cfg.AnonymousUser
			}
			api.Use(middleware.StaticUser(user))
		}
		if cfg.RateLimiter != nil {
			api.Use(middleware.RateLimit(cfg.RateLimiter))
		}
		// Apply idempotency middleware for mutating operations
		if cfg.Idempotency != nil {
			api.Use(middleware.Idempotency(cfg.Idempotency))
		}

		registerFulfillmentRoutes(api, cfg)
	}

	return router
}

func registerFulfillmentRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	base := handlers.NewBaseHandler()
	svc := cfg.Service

	RegisterOrderRoutes(rg, handlers.NewOrderHandler(base, svc))
	RegisterPackageRoutes(rg,
		handlers.NewPackageHandler(base, svc),
		handlers.NewTransportHandler(base, svc.Transports),
	)
	RegisterReturnRoutes(rg, handlers.NewReturnHandler(base, svc.Returns))
	if cfg.Products != nil {
		RegisterInventoryRoutes(rg, handlers.NewInventoryHandler(base, svc.Ledger, cfg.Products))
	}

	if cfg.AuditReader != nil {
		auditHandler := handlers.NewAuditHandler(base, cfg.AuditReader)
		rg.GET("/audit/:entity/:id", middleware.RequirePermission(security.PermFulfillmentRead), auditHandler.History)
	}
}
