// Package main seeds the store with a generated catalog, stock and orders.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"

	"stockflow/internal/app"
	"stockflow/internal/core/apperror"
	"stockflow/internal/domain/allocation"
	"stockflow/internal/domain/fulfillment"
	"stockflow/internal/domain/ledger"
	"stockflow/internal/domain/packaging"
	"stockflow/internal/infrastructure/config"
	"stockflow/pkg/logger"
)

type options struct {
	products  int
	batches   int
	orders    int
	warehouse string
	seed      uint64
	pack      bool
}

func main() {
	var opts options
	flag.IntVar(&opts.products, "products", 20, "Number of products")
	flag.IntVar(&opts.batches, "batches", 3, "Batches received per product")
	flag.IntVar(&opts.orders, "orders", 50, "Number of orders to place")
	flag.StringVar(&opts.warehouse, "warehouse", "WH-MAIN", "Warehouse id")
	flag.Uint64Var(&opts.seed, "seed", 0, "Random seed (0 picks one)")
	flag.BoolVar(&opts.pack, "pack", true, "Pack every placed order")
	flag.Parse()

	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
		Service:     "stockflow-seed",
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("failed to load configuration", "error", err)
	}
	if cfg.Storage.Driver == config.DriverMemory {
		log.Warn("seeding memory storage, data is discarded on exit")
	}

	ctx := context.Background()
	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to assemble pipeline", "error", err)
	}
	defer application.Close()

	if err := seed(ctx, application.Service, application.Products, opts, log); err != nil {
		log.Fatalw("seed failed", "error", err)
	}
}

type productWriter interface {
	Put(ctx context.Context, p *packaging.Product) error
}

func seed(ctx context.Context, svc *fulfillment.Service, products productWriter, opts options, log *logger.Logger) error {
	if opts.products <= 0 {
		return fmt.Errorf("at least one product is required")
	}
	faker := gofakeit.New(opts.seed)
	now := time.Now().UTC()

	ids := make([]string, 0, opts.products)
	for i := 0; i < opts.products; i++ {
		p := &packaging.Product{
			ID:         fmt.Sprintf("P-%04d", i+1),
			Name:       faker.ProductName(),
			SKU:        strings.ToUpper(faker.LetterN(3)) + "-" + faker.DigitN(6),
			UnitWeight: decimal.NewFromFloat(faker.Float64Range(0.05, 25)).Round(3),
			UnitVolume: decimal.NewFromFloat(faker.Float64Range(0.001, 0.5)).Round(4),
			UnitPrice:  decimal.NewFromFloat(faker.Price(1, 500)).Round(2),
		}
		if err := products.Put(ctx, p); err != nil {
			return fmt.Errorf("put product %s: %w", p.ID, err)
		}
		ids = append(ids, p.ID)
	}
	log.Infow("products seeded", "count", len(ids))

	var items int
	for _, productID := range ids {
		for b := 0; b < opts.batches; b++ {
			in := ledger.ReceiveInput{
				ProductID:   productID,
				WarehouseID: opts.warehouse,
				LotNumber:   "LOT-" + faker.DigitN(8),
				Quantity:    faker.Number(5, 60),
				ReceivedAt:  now.AddDate(0, 0, -faker.Number(0, 60)),
			}
			if faker.Bool() {
				expires := now.AddDate(0, 0, faker.Number(14, 365))
				in.ExpiresAt = &expires
			}
			_, created, err := svc.Ledger.Receive(ctx, in)
			if err != nil {
				return fmt.Errorf("receive batch for %s: %w", productID, err)
			}
			items += len(created)
		}
	}
	log.Infow("stock received", "batches", len(ids)*opts.batches, "items", items)

	var placed, short, packed int
	for i := 0; i < opts.orders; i++ {
		lines := make([]allocation.Line, faker.Number(1, 4))
		for j := range lines {
			lines[j] = allocation.Line{
				ProductID: ids[faker.Number(0, len(ids)-1)],
				Quantity:  faker.Number(1, 5),
			}
		}
		res, err := svc.PlaceOrder(ctx, fulfillment.PlaceOrderInput{
			CustomerRef: faker.Company(),
			WarehouseID: opts.warehouse,
			Lines:       lines,
		})
		if err != nil {
			if apperror.Code(err) == apperror.CodeInsufficientStock {
				short++
				continue
			}
			return fmt.Errorf("place order: %w", err)
		}
		placed++

		if !opts.pack {
			continue
		}
		for _, pkg := range res.Packages {
			if _, err := svc.Packages.Pack(ctx, pkg.ID, "seeded"); err != nil {
				return fmt.Errorf("pack %s: %w", pkg.ID, err)
			}
			packed++
		}
	}
	log.Infow("orders seeded", "placed", placed, "insufficient_stock", short, "packages_packed", packed)
	return nil
}
