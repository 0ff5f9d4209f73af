// Package fulfillment is the entry point of the pipeline: it places orders and
// exposes the component services behind one value.
package fulfillment

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stockflow/internal/core/apperror"
	appctx "stockflow/internal/core/context"
	"stockflow/internal/core/id"
	"stockflow/internal/core/numerator"
	"stockflow/internal/core/policy"
	"stockflow/internal/core/tx"
	"stockflow/internal/domain/allocation"
	"stockflow/internal/domain/audit"
	"stockflow/internal/domain/events"
	"stockflow/internal/domain/ledger"
	"stockflow/internal/domain/order"
	"stockflow/internal/domain/packaging"
	"stockflow/internal/domain/returns"
	"stockflow/internal/domain/transport"
)

var tracer = otel.Tracer("stockflow/fulfillment")

// Store bundles the persistence ports. Both storage backends provide one.
type Store interface {
	tx.Manager
	Ledger() ledger.Repository
	Packages() packaging.Repository
	Transports() transport.Repository
	Returns() returns.Repository
	Orders() order.Repository
	Catalog() packaging.ProductCatalog
	Outbox() events.Publisher
}

// Config tunes the pipeline.
type Config struct {
	Strategy           allocation.Strategy
	MaxItemsPerPackage int
	ReturnPolicy       *policy.ReturnPolicy
	AllowInTransit     bool
	// Numbers assigns order and RMA numbers; nil leaves them empty.
	Numbers numerator.Generator
}

// Service wires the pipeline components over one store.
type Service struct {
	txm        tx.Manager
	orders     order.Repository
	cfg        Config
	audit      *audit.Recorder
	events     events.Publisher
	Ledger     *ledger.Service
	Allocator  *allocation.Allocator
	Packages   *packaging.Service
	Transports *transport.Service
	Returns    *returns.Processor
	Aggregator *order.Aggregator
	now        func() time.Time
}

// New builds every component over store.
func New(store Store, recorder *audit.Recorder, cfg Config) *Service {
	if cfg.Strategy == "" {
		cfg.Strategy = allocation.StrategyFEFO
	}
	publisher := store.Outbox()

	ledgerSvc := ledger.NewService(store, store.Ledger())
	packages := packaging.NewService(store, store.Packages(), ledgerSvc, store.Catalog(), publisher, recorder)
	aggregator := order.NewAggregator(store, store.Orders(), store.Packages(), publisher, recorder)
	packages.SetOrderSyncer(aggregator)
	transports := transport.NewService(store, store.Transports(), packages, ledgerSvc, publisher, recorder)
	processor := returns.NewProcessor(store, store.Returns(), packages, transports, ledgerSvc,
		cfg.ReturnPolicy, publisher, recorder, returns.Options{AllowInTransit: cfg.AllowInTransit, Numbers: cfg.Numbers})

	return &Service{
		txm:        store,
		orders:     store.Orders(),
		cfg:        cfg,
		audit:      recorder,
		events:     publisher,
		Ledger:     ledgerSvc,
		Allocator:  allocation.NewAllocator(ledgerSvc, cfg.Strategy),
		Packages:   packages,
		Transports: transports,
		Returns:    processor,
		Aggregator: aggregator,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source of every component. Used in tests.
func (s *Service) SetClock(now func() time.Time) {
	s.Ledger.SetClock(now)
	s.Allocator.SetClock(now)
	s.Packages.SetClock(now)
	s.Transports.SetClock(now)
	s.Returns.SetClock(now)
	s.Aggregator.SetClock(now)
	s.now = now
}

// PlaceOrderInput is a new order.
type PlaceOrderInput struct {
	CustomerRef string
	WarehouseID string
	Lines       []allocation.Line
	Notes       string
}

// PlaceOrderResult is the placed order with its new packages.
type PlaceOrderResult struct {
	Order    *order.Order         `json:"order"`
	Packages []*packaging.Package `json:"packages"`
}

// PlaceOrder creates the order, allocates stock and creates packages in one
// transaction. On InsufficientStock nothing is persisted.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*PlaceOrderResult, error) {
	ctx, span := tracer.Start(ctx, "fulfillment.PlaceOrder",
		trace.WithAttributes(attribute.Int("lines", len(in.Lines))))
	defer span.End()

	if len(in.Lines) == 0 {
		return nil, apperror.NewValidation("order has no lines")
	}

	number, err := s.nextOrderNumber(ctx)
	if err != nil {
		return nil, err
	}

	var (
		result *PlaceOrderResult
		trail  audit.Batch
	)
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		trail.Begin(s.now)
		now := s.now()
		o := &order.Order{
			ID:          id.NewBusiness(id.PrefixOrder),
			Number:      number,
			CustomerRef: in.CustomerRef,
			WarehouseID: in.WarehouseID,
			Lines:       append([]allocation.Line(nil), in.Lines...),
			Status:      order.StatusPending,
			Notes:       in.Notes,
			CreatedBy:   appctx.GetUserID(ctx),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.orders.Create(ctx, o); err != nil {
			return err
		}
		if err := s.events.Publish(ctx, events.Event{
			Type:          events.OrderPlaced,
			AggregateType: audit.EntityOrder,
			AggregateID:   o.ID,
			Payload:       o,
			OccurredAt:    now,
		}); err != nil {
			return err
		}
		trail.Add("order.placed", audit.EntityOrder, o.ID, map[string]any{"lines": o.Lines})

		allocs, err := s.Allocator.Allocate(ctx, o.ID, in.Lines, &trail)
		if err != nil {
			return err
		}
		pkgs, err := s.Packages.Create(ctx, packaging.CreateInput{
			OrderID:     o.ID,
			WarehouseID: o.WarehouseID,
			Allocations: allocs,
			MaxItems:    s.cfg.MaxItemsPerPackage,
		}, &trail)
		if err != nil {
			return err
		}
		if err := s.Aggregator.Advance(ctx, o, order.StatusAllocated, &trail); err != nil {
			return err
		}

		result = &PlaceOrderResult{Order: o, Packages: pkgs}
		return nil
	})
	if err != nil {
		return nil, err
	}

	trail.Flush(ctx, s.audit)
	return result, nil
}

// orderNumbers reserve ranges; order numbers may have gaps.
var orderNumbers = &numerator.Options{Strategy: numerator.StrategyCached, RangeSize: 50}

func (s *Service) nextOrderNumber(ctx context.Context) (string, error) {
	if s.cfg.Numbers == nil {
		return "", nil
	}
	number, err := s.cfg.Numbers.GetNextNumber(ctx, numerator.DefaultConfig(order.NumberPrefix), orderNumbers, time.Now().UTC())
	if err != nil {
		return "", apperror.NewInternal(err)
	}
	return number, nil
}

// OrderView is an order with its packages.
type OrderView struct {
	Order    *order.Order         `json:"order"`
	Packages []*packaging.Package `json:"packages"`
}

// GetOrder returns an order with its packages.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*OrderView, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	pkgs, err := s.Packages.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderView{Order: o, Packages: pkgs}, nil
}

// PackageView is a package with its transports and returns.
type PackageView struct {
	Package    *packaging.Package     `json:"package"`
	Transports []*transport.Transport `json:"transports"`
	Returns    []*returns.Return      `json:"returns"`
}

// GetPackage returns a package with its transports and returns.
func (s *Service) GetPackage(ctx context.Context, packageID string) (*PackageView, error) {
	p, err := s.Packages.Get(ctx, packageID)
	if err != nil {
		return nil, err
	}
	ts, err := s.Transports.ListByPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	rs, err := s.Returns.ListByPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	return &PackageView{Package: p, Transports: ts, Returns: rs}, nil
}

// SetPackageStatus handles a requested package status: ready_for_dispatch packs
// the package, in_transit and delivered go through its forward transport.
func (s *Service) SetPackageStatus(ctx context.Context, packageID string, to packaging.Status, notes string) (*packaging.Package, error) {
	if err := to.Validate(); err != nil {
		return nil, apperror.NewValidation(err.Error())
	}

	switch to {
	case packaging.StatusReadyForDispatch:
		return s.Packages.Pack(ctx, packageID, notes)
	case packaging.StatusInTransit, packaging.StatusDelivered:
		if _, err := s.Transports.UpdateStatusByPackage(ctx, packageID, transport.Status(to), notes); err != nil {
			return nil, err
		}
		return s.Packages.Get(ctx, packageID)
	}

	p, err := s.Packages.Get(ctx, packageID)
	if err != nil {
		return nil, err
	}
	return nil, apperror.NewInvalidStateTransition("package", p.Status, to).
		WithDetail("package_id", packageID).
		WithDetail("hint", "dispatch via assign-transport, returns via the return workflow")
}
