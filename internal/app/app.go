// Package app assembles the fulfillment pipeline and its infrastructure from
// configuration. The server, worker and seed binaries share it.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"stockflow/internal/core/numerator"
	"stockflow/internal/core/policy"
	"stockflow/internal/domain/allocation"
	"stockflow/internal/domain/audit"
	"stockflow/internal/domain/fulfillment"
	"stockflow/internal/domain/packaging"
	"stockflow/internal/infrastructure/cache"
	"stockflow/internal/infrastructure/config"
	"stockflow/internal/infrastructure/http/v1/handlers"
	"stockflow/internal/infrastructure/idempotency"
	"stockflow/internal/infrastructure/messaging"
	"stockflow/internal/infrastructure/metrics"
	pgnumerator "stockflow/internal/infrastructure/numerator"
	"stockflow/internal/infrastructure/storage/memory"
	"stockflow/internal/infrastructure/storage/postgres"
	"stockflow/pkg/logger"
)

// App holds the wired components.
type App struct {
	Config      *config.Config
	Service     *fulfillment.Service
	Products    *cache.ProductCache
	Audit       audit.Reader
	Idempotency idempotency.Store
	Outbox      messaging.Source
	Metrics     *metrics.Registry
	Redis       *redis.Client
	// Publisher is nil when no Redis address is configured.
	Publisher    *messaging.RedisStreamPublisher
	HealthChecks map[string]handlers.Pinger

	closers []func()
}

// backend is what either storage driver provides.
type backend interface {
	fulfillment.Store
	Ping(ctx context.Context) error
}

// cachedStore serves catalog lookups from the product cache.
type cachedStore struct {
	fulfillment.Store
	catalog packaging.ProductCatalog
}

func (s cachedStore) Catalog() packaging.ProductCatalog { return s.catalog }

// New builds the pipeline. Call Close when done.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{
		Config:       cfg,
		Metrics:      metrics.New(),
		HealthChecks: make(map[string]handlers.Pinger),
	}

	var (
		store      backend
		sink       audit.Sink
		pgStore    *postgres.Store
		rawCatalog cache.Catalog
		numbers    numerator.Generator
	)

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		poolCfg := postgres.DefaultPoolConfig(cfg.Database.URL)
		if cfg.Database.MaxConns > 0 {
			poolCfg.MaxConns = cfg.Database.MaxConns
		}
		if cfg.Database.MinConns > 0 {
			poolCfg.MinConns = cfg.Database.MinConns
		}
		pool, err := postgres.NewPool(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		a.Metrics.RegisterPool(func() metrics.PoolStats {
			s := pool.Stats()
			return metrics.PoolStats{Total: s.TotalConns, Acquired: s.AcquiredConns, Idle: s.IdleConns, Max: s.MaxConns}
		})

		pgStore = postgres.NewStore(pool)
		auditSink, err := postgres.NewAuditSink(pgStore.TxManager, cfg.Audit.CompressThreshold)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("audit sink: %w", err)
		}
		store, sink, rawCatalog = pgStore, auditSink, pgStore.Products()
		numbers = pgnumerator.New(pool)
		a.Audit = auditSink
		a.Outbox = pgStore.OutboxSource()
	default:
		memStore := memory.New()
		memSink := audit.NewMemorySink()
		store, sink, rawCatalog = memStore, memSink, memStore.Products()
		numbers = numerator.NewMemory()
		a.Audit = memSink
		a.Outbox = memStore.OutboxSource()
	}
	a.HealthChecks["store"] = store

	a.Products = cache.NewProductCache(rawCatalog, cfg.Fulfillment.ProductCacheTTL)
	if pgStore != nil {
		a.Products.Listen(ctx, pgStore.Pool().Pool)
		a.closers = append(a.closers, a.Products.Stop)
	}

	returnPolicy, err := policy.NewReturnPolicy(cfg.Returns.Policy)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("return policy: %w", err)
	}
	strategy, err := allocation.ParseStrategy(cfg.Fulfillment.Strategy)
	if err != nil {
		a.Close()
		return nil, err
	}

	recorder := audit.NewRecorder(sink, a.Metrics.AuditOptions()...)
	a.Service = fulfillment.New(cachedStore{Store: store, catalog: a.Products}, recorder, fulfillment.Config{
		Strategy:           strategy,
		MaxItemsPerPackage: cfg.Fulfillment.MaxItemsPerPackage,
		ReturnPolicy:       returnPolicy,
		AllowInTransit:     cfg.Returns.AllowInTransit,
		Numbers:            numbers,
	})

	if cfg.Redis.Addr != "" {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, func() {
			if err := a.Redis.Close(); err != nil {
				log.Warnw("close redis", "error", err)
			}
		})
		a.Publisher = messaging.NewRedisStreamPublisher(a.Redis, cfg.Redis.Stream, cfg.Redis.MaxLen)
		a.HealthChecks["redis"] = a.Publisher
	}

	switch {
	case a.Redis != nil:
		a.Idempotency = idempotency.NewRedisStore(a.Redis, cfg.Worker.IdempotencyTTL)
	case pgStore != nil:
		a.Idempotency = postgres.NewIdempotencyStore(pgStore.TxManager, cfg.Worker.IdempotencyTTL)
	default:
		a.Idempotency = idempotency.NewMemoryStore(cfg.Worker.IdempotencyTTL)
	}

	log.Infow("pipeline assembled",
		"storage", cfg.Storage.Driver,
		"strategy", strategy,
		"redis", a.Redis != nil,
		"return_policy", returnPolicy.Expression(),
	)
	return a, nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
