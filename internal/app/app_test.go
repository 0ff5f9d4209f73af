package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockflow/internal/domain/allocation"
	"stockflow/internal/domain/fulfillment"
	"stockflow/internal/domain/ledger"
	"stockflow/internal/domain/packaging"
	"stockflow/internal/infrastructure/config"
	"stockflow/internal/infrastructure/idempotency"
	"stockflow/internal/infrastructure/storage/memory"
	"stockflow/pkg/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Storage:     config.StorageConfig{Driver: config.DriverMemory},
		Fulfillment: config.FulfillmentConfig{Strategy: "fefo", ProductCacheTTL: time.Minute},
		Returns:     config.ReturnsConfig{Policy: "true", AllowInTransit: true},
		Worker:      config.WorkerConfig{IdempotencyTTL: time.Hour, BatchSize: 10},
	}
}

func TestNew_Memory(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(), logger.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &idempotency.MemoryStore{}, a.Idempotency)
	assert.IsType(t, &memory.Outbox{}, a.Outbox)
	assert.Nil(t, a.Publisher)
	assert.Contains(t, a.HealthChecks, "store")
	assert.NotContains(t, a.HealthChecks, "redis")

	require.NoError(t, a.Products.Put(ctx, &packaging.Product{ID: "P1", Name: "Widget", UnitPrice: decimal.NewFromInt(4)}))
	_, _, err = a.Service.Ledger.Receive(ctx, ledger.ReceiveInput{
		ProductID: "P1", WarehouseID: "W1", LotNumber: "L1", Quantity: 3, ReceivedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	res, err := a.Service.PlaceOrder(ctx, fulfillment.PlaceOrderInput{
		WarehouseID: "W1",
		Lines:       []allocation.Line{{ProductID: "P1", Quantity: 2}},
	})
	require.NoError(t, err)
	require.Len(t, res.Packages, 1)
	assert.Regexp(t, `^SO-\d{4}-00001$`, res.Order.Number)
	assert.True(t, decimal.NewFromInt(8).Equal(res.Packages[0].Totals.Value))
	assert.Equal(t, 1, a.Products.Len(), "catalog reads go through the cache")
}

func TestNew_RedisBackedIdempotency(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Redis = config.RedisConfig{Addr: mr.Addr(), Stream: "events", MaxLen: 100}

	a, err := New(context.Background(), cfg, logger.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &idempotency.RedisStore{}, a.Idempotency)
	require.NotNil(t, a.Publisher)
	require.Contains(t, a.HealthChecks, "redis")
	assert.NoError(t, a.HealthChecks["redis"].Ping(context.Background()))
}

func TestNew_InvalidPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.Returns.Policy = "daysSinceDelivery <"
	_, err := New(context.Background(), cfg, logger.NewNop())
	assert.Error(t, err)
}

func TestNew_InvalidStrategy(t *testing.T) {
	cfg := testConfig()
	cfg.Fulfillment.Strategy = "random"
	_, err := New(context.Background(), cfg, logger.NewNop())
	assert.Error(t, err)
}
