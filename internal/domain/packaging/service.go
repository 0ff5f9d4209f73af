package packaging

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stockflow/internal/core/apperror"
	appctx "stockflow/internal/core/context"
	"stockflow/internal/core/id"
	"stockflow/internal/core/tx"
	"stockflow/internal/domain/allocation"
	"stockflow/internal/domain/audit"
	"stockflow/internal/domain/events"
	"stockflow/internal/domain/ledger"
	"stockflow/pkg/logger"
)

var tracer = otel.Tracer("stockflow/packaging")

// Service is the Package Aggregator.
type Service struct {
	txm     tx.Manager
	repo    Repository
	ledger  *ledger.Service
	catalog ProductCatalog
	events  events.Publisher
	audit   *audit.Recorder
	orders  OrderSyncer
	now     func() time.Time
}

// NewService creates the Package Aggregator.
func NewService(
	txm tx.Manager,
	repo Repository,
	ledgerSvc *ledger.Service,
	catalog ProductCatalog,
	publisher events.Publisher,
	recorder *audit.Recorder,
) *Service {
	return &Service{
		txm:     txm,
		repo:    repo,
		ledger:  ledgerSvc,
		catalog: catalog,
		events:  publisher,
		audit:   recorder,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetOrderSyncer wires the Order Status Aggregator, which itself reads packages.
func (s *Service) SetOrderSyncer(o OrderSyncer) { s.orders = o }

// SetClock overrides the time source. Used in tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Repository exposes the package repository to collaborating services.
func (s *Service) Repository() Repository { return s.repo }

// CreateInput describes packages to build from an allocation.
type CreateInput struct {
	OrderID     string
	WarehouseID string
	Allocations []allocation.Allocation
	// MaxItems caps items per package; 0 puts everything in one package.
	MaxItems int
}

// Create groups allocated items into packages in status created and computes
// their totals. Must run inside the allocation transaction.
func (s *Service) Create(ctx context.Context, in CreateInput, trail *audit.Batch) ([]*Package, error) {
	groups := split(in.Allocations, in.MaxItems)
	if len(groups) == 0 {
		return nil, apperror.NewValidation("nothing to package")
	}

	itemIDs := make([]string, 0)
	for _, a := range in.Allocations {
		itemIDs = append(itemIDs, a.ItemIDs...)
	}
	open, err := s.repo.ListOpenByItems(ctx, itemIDs)
	if err != nil {
		return nil, err
	}
	if len(open) > 0 {
		return nil, apperror.NewConflict("items are already held by an open package").
			WithDetail("package_id", open[0].ID)
	}

	now := s.now()
	products := make(map[string]*Product)
	out := make([]*Package, 0, len(groups))
	for _, entries := range groups {
		p := &Package{
			ID:          id.NewBusiness(id.PrefixPackage),
			OrderID:     in.OrderID,
			WarehouseID: in.WarehouseID,
			Allocations: entries,
			Status:      StatusCreated,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		totals, err := s.computeTotals(ctx, entries, products)
		if err != nil {
			return nil, err
		}
		p.Totals = totals

		if err := s.repo.Create(ctx, p); err != nil {
			return nil, err
		}
		if err := s.events.Publish(ctx, events.Event{
			Type:          events.PackageCreated,
			AggregateType: audit.EntityPackage,
			AggregateID:   p.ID,
			Payload:       p,
			OccurredAt:    now,
		}); err != nil {
			return nil, err
		}
		trail.Add("package.created", audit.EntityPackage, p.ID, map[string]any{
			"orderId": p.OrderID,
			"items":   p.ItemCount(),
			"totals":  p.Totals,
		})
		out = append(out, p)
	}
	return out, nil
}

func (s *Service) computeTotals(ctx context.Context, entries []AllocationEntry, products map[string]*Product) (Totals, error) {
	var t Totals
	for _, e := range entries {
		product, ok := products[e.ProductID]
		if !ok {
			var err error
			product, err = s.catalog.GetProduct(ctx, e.ProductID)
			if err != nil {
				return Totals{}, err
			}
			products[e.ProductID] = product
		}
		batch, err := s.ledger.Repository().GetBatch(ctx, e.BatchID)
		if err != nil {
			return Totals{}, err
		}

		qty := decimalFromInt(e.Quantity)
		price := product.UnitPrice
		if batch.UnitPrice != nil {
			price = *batch.UnitPrice
		}
		t.Weight = t.Weight.Add(product.UnitWeight.Mul(qty))
		t.Volume = t.Volume.Add(product.UnitVolume.Mul(qty))
		t.Value = t.Value.Add(price.Mul(qty))
	}
	return t, nil
}

// Pack moves a created package to ready_for_dispatch and marks its items packed.
// A second call fails with AlreadyPacked and changes nothing.
func (s *Service) Pack(ctx context.Context, packageID, notes string) (*Package, error) {
	ctx, span := tracer.Start(ctx, "packaging.Pack",
		trace.WithAttributes(attribute.String("package.id", packageID)))
	defer span.End()

	var (
		packed *Package
		trail  audit.Batch
	)
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		trail.Begin(s.now)
		p, err := s.repo.GetForUpdate(ctx, packageID)
		if err != nil {
			return err
		}
		if err := s.pack(ctx, p, notes, &trail); err != nil {
			return err
		}
		packed = p
		return nil
	})
	if err != nil {
		return nil, s.explainPackFailure(ctx, packageID, err)
	}

	trail.Flush(ctx, s.audit)
	s.syncOrder(ctx, packed.OrderID)
	return packed, nil
}

// PackOrder packs every created package of the order in one transaction.
// It fails with AlreadyPacked when all of them are already packed.
func (s *Service) PackOrder(ctx context.Context, orderID, notes string) ([]*Package, error) {
	var (
		packed []*Package
		trail  audit.Batch
	)
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		trail.Begin(s.now)
		packed = nil
		pkgs, err := s.repo.ListByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if len(pkgs) == 0 {
			return apperror.NewNotFound("package", orderID).WithDetail("order_id", orderID)
		}
		for _, listed := range pkgs {
			p, err := s.repo.GetForUpdate(ctx, listed.ID)
			if err != nil {
				return err
			}
			if p.Status == StatusReadyForDispatch {
				continue
			}
			if err := s.pack(ctx, p, notes, &trail); err != nil {
				return err
			}
			packed = append(packed, p)
		}
		if len(packed) == 0 {
			return apperror.NewAlreadyPacked(pkgs[0].ID).WithDetail("order_id", orderID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	trail.Flush(ctx, s.audit)
	s.syncOrder(ctx, orderID)
	return packed, nil
}

func (s *Service) pack(ctx context.Context, p *Package, notes string, trail *audit.Batch) error {
	switch p.Status {
	case StatusCreated:
	case StatusReadyForDispatch:
		return apperror.NewAlreadyPacked(p.ID)
	default:
		return apperror.NewInvalidStateTransition("package", p.Status, StatusReadyForDispatch).
			WithDetail("package_id", p.ID)
	}

	if _, err := s.ledger.Transition(ctx, p.ItemIDs(), ledger.ItemPacked, notes, p.ID, trail); err != nil {
		return err
	}

	at := s.now()
	if err := p.TransitionTo(StatusReadyForDispatch, at); err != nil {
		return err
	}
	p.PackedBy = appctx.GetUserID(ctx)
	p.PackedAt = &at
	if notes != "" {
		p.Notes = notes
	}
	if err := s.repo.Update(ctx, p, StatusCreated); err != nil {
		return err
	}

	if err := s.events.Publish(ctx, events.Event{
		Type:          events.PackagePacked,
		AggregateType: audit.EntityPackage,
		AggregateID:   p.ID,
		Payload:       map[string]any{"orderId": p.OrderID, "packedBy": p.PackedBy},
		OccurredAt:    at,
	}); err != nil {
		return err
	}
	trail.AddDetailed("package.packed", audit.EntityPackage, p.ID,
		map[string]any{"from": StatusCreated, "to": StatusReadyForDispatch, "notes": notes},
		map[string]any{"orderId": p.OrderID})
	return nil
}

// explainPackFailure turns a lost optimistic race into AlreadyPacked when the
// winner packed the package.
func (s *Service) explainPackFailure(ctx context.Context, packageID string, err error) error {
	if !apperror.IsConcurrentModification(err) {
		return err
	}
	current, getErr := s.repo.GetByID(ctx, packageID)
	if getErr == nil && current.Status == StatusReadyForDispatch {
		return apperror.NewAlreadyPacked(packageID)
	}
	return err
}

// Advance moves a locked package to status to and persists it. Used by the
// transport and return services inside their own transactions.
func (s *Service) Advance(ctx context.Context, p *Package, to Status, notes string, trail *audit.Batch) error {
	from := p.Status
	at := s.now()
	if err := p.TransitionTo(to, at); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, p, from); err != nil {
		return err
	}
	if err := s.events.Publish(ctx, events.Event{
		Type:          events.PackageStatusChanged,
		AggregateType: audit.EntityPackage,
		AggregateID:   p.ID,
		Payload:       map[string]any{"orderId": p.OrderID, "from": from, "to": to},
		OccurredAt:    at,
	}); err != nil {
		return err
	}
	trail.Add("package."+string(to), audit.EntityPackage, p.ID,
		map[string]any{"from": from, "to": to, "notes": notes})
	return nil
}

// Release records items a processed return took back from the package, so an
// open package stops holding them. The package moves to returned once it
// holds nothing. Must run inside the caller's transaction.
func (s *Service) Release(ctx context.Context, p *Package, itemIDs []string, returnID, notes string, trail *audit.Batch) error {
	if !p.Release(itemIDs) {
		return nil
	}
	trail.Add("package.items_released", audit.EntityPackage, p.ID, map[string]any{
		"returnId": returnID,
		"itemIds":  itemIDs,
	})
	if p.FullyReleased() && p.Status.CanTransitionTo(StatusReturned) {
		return s.Advance(ctx, p, StatusReturned, notes, trail)
	}
	p.UpdatedAt = s.now()
	return s.repo.Update(ctx, p, p.Status)
}

// Get returns a package by id.
func (s *Service) Get(ctx context.Context, packageID string) (*Package, error) {
	return s.repo.GetByID(ctx, packageID)
}

// ListByOrder returns the packages of an order.
func (s *Service) ListByOrder(ctx context.Context, orderID string) ([]*Package, error) {
	return s.repo.ListByOrder(ctx, orderID)
}

// SyncOrder runs the Order Status Aggregator after a committed package change.
// Failures are logged; the reconcile job repairs the order later.
func (s *Service) SyncOrder(ctx context.Context, orderID string) {
	s.syncOrder(ctx, orderID)
}

func (s *Service) syncOrder(ctx context.Context, orderID string) {
	if s.orders == nil || orderID == "" {
		return
	}
	if err := s.orders.SyncOrder(ctx, orderID); err != nil {
		logger.Warn(ctx, "order status sync failed", "order_id", orderID, "error", err)
	}
}
