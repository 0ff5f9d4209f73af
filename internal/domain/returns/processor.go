package returns

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
	"stockflow/internal/domain/audit"
	"stockflow/internal/domain/events"
	"stockflow/internal/domain/ledger"
	"stockflow/internal/domain/packaging"
	"stockflow/internal/domain/transport"
	"stockflow/pkg/logger"
)

var tracer = otel.Tracer("stockflow/returns")

// NumberPrefix starts every return (RMA) number.
const NumberPrefix = "RMA"

// Options tune return acceptance.
type Options struct {
	// AllowInTransit accepts returns against packages still in transit.
	AllowInTransit bool
	// Numbers assigns RMA numbers; nil leaves Number empty.
	Numbers numerator.Generator
}

// Processor is the Return Processor.
type Processor struct {
	txm        tx.Manager
	repo       Repository
	packages   *packaging.Service
	transports *transport.Service
	ledger     *ledger.Service
	policy     *policy.ReturnPolicy
	events     events.Publisher
	audit      *audit.Recorder
	opts       Options
	now        func() time.Time
}

// NewProcessor creates the Return Processor.
func NewProcessor(
	txm tx.Manager,
	repo Repository,
	packages *packaging.Service,
	transports *transport.Service,
	ledgerSvc *ledger.Service,
	returnPolicy *policy.ReturnPolicy,
	publisher events.Publisher,
	recorder *audit.Recorder,
	opts Options,
) *Processor {
	return &Processor{
		txm:        txm,
		repo:       repo,
		packages:   packages,
		transports: transports,
		ledger:     ledgerSvc,
		policy:     returnPolicy,
		events:     publisher,
		audit:      recorder,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Used in tests.
func (p *Processor) SetClock(now func() time.Time) { p.now = now }

// nextNumber draws an RMA number outside the business transaction, so a
// rejected return leaves a gap.
func (p *Processor) nextNumber(ctx context.Context) (string, error) {
	if p.opts.Numbers == nil {
		return "", nil
	}
	number, err := p.opts.Numbers.GetNextNumber(ctx, numerator.DefaultConfig(NumberPrefix), nil, p.now())
	if err != nil {
		return "", apperror.NewInternal(err)
	}
	return number, nil
}

// InitiateInput is the request to open a return.
type InitiateInput struct {
	PackageID string
	Items     []Item
	Reason    Reason
	Notes     string
}

// Initiate records a return against a delivered (or in-transit) package.
func (p *Processor) Initiate(ctx context.Context, in InitiateInput) (*Return, error) {
	ctx, span := tracer.Start(ctx, "returns.Initiate",
		trace.WithAttributes(attribute.String("package.id", in.PackageID)))
	defer span.End()

	if in.PackageID == "" {
		return nil, apperror.NewValidation("packageId is required")
	}
	if err := in.Reason.Validate(); err != nil {
		return nil, apperror.NewValidation(err.Error())
	}

	number, err := p.nextNumber(ctx)
	if err != nil {
		return nil, err
	}

	var (
		created *Return
		trail   audit.Batch
	)
	err = p.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		trail.Begin(p.now)
		pkg, err := p.packages.Repository().GetForUpdate(ctx, in.PackageID)
		if err != nil {
			return err
		}
		if !p.acceptsReturns(pkg.Status) {
			return apperror.NewInvalidStateTransition("package", pkg.Status, packaging.StatusReturned).
				WithDetail("package_id", pkg.ID)
		}

		claimed, err := p.claimedItems(ctx, pkg.ID)
		if err != nil {
			return err
		}
		items, err := ValidateItems(pkg, in.Items, claimed)
		if err != nil {
			return err
		}
		if err := p.checkPolicy(pkg, in.Reason, items); err != nil {
			return err
		}

		now := p.now()
		r := &Return{
			ID:          id.NewBusiness(id.PrefixReturn),
			Number:      number,
			PackageID:   pkg.ID,
			OrderID:     pkg.OrderID,
			WarehouseID: pkg.WarehouseID,
			Items:       items,
			Reason:      in.Reason,
			Status:      StatusInitiated,
			ReturnDate:  now,
			InitiatedBy: appctx.GetUserID(ctx),
			Notes:       in.Notes,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := p.repo.Create(ctx, r); err != nil {
			return err
		}
		if err := p.events.Publish(ctx, events.Event{
			Type:          events.ReturnInitiated,
			AggregateType: audit.EntityReturn,
			AggregateID:   r.ID,
			Payload:       r,
			OccurredAt:    now,
		}); err != nil {
			return err
		}
		trail.Add("return.initiated", audit.EntityReturn, r.ID, map[string]any{
			"packageId": r.PackageID,
			"reason":    r.Reason,
			"items":     r.Items,
		})
		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	trail.Flush(ctx, p.audit)
	return created, nil
}

// SchedulePickup creates the reverse transport and moves the return to pickup_scheduled.
func (p *Processor) SchedulePickup(ctx context.Context, returnID, transporterID, notes string) (*Return, error) {
	if transporterID == "" {
		return nil, apperror.NewValidation("transporterId is required")
	}
	return p.transition(ctx, returnID, StatusPickupScheduled, notes, func(ctx context.Context, r *Return, trail *audit.Batch) error {
		t, err := p.transports.AssignReverse(ctx, r.PackageID, r.ID, transporterID, notes, trail)
		if err != nil {
			return err
		}
		r.TransportID = t.ID
		return nil
	})
}

// MarkPickedUp moves pickup_scheduled -> picked_up and marks the items returned.
func (p *Processor) MarkPickedUp(ctx context.Context, returnID, notes string) (*Return, error) {
	return p.transition(ctx, returnID, StatusPickedUp, notes, func(ctx context.Context, r *Return, trail *audit.Batch) error {
		if _, err := p.ledger.Transition(ctx, r.ItemIDs(), ledger.ItemReturned, notes, r.ID, trail); err != nil {
			return err
		}
		if r.TransportID != "" {
			return p.transports.AdvanceReverse(ctx, r.TransportID, transport.StatusInTransit, notes, trail)
		}
		return nil
	})
}

// MarkReceived moves picked_up -> received once the goods are at the warehouse.
func (p *Processor) MarkReceived(ctx context.Context, returnID, notes string) (*Return, error) {
	return p.transition(ctx, returnID, StatusReceived, notes, func(ctx context.Context, r *Return, trail *audit.Batch) error {
		at := p.now()
		r.ReceivedDate = &at
		if r.TransportID != "" {
			return p.transports.AdvanceReverse(ctx, r.TransportID, transport.StatusDelivered, notes, trail)
		}
		return nil
	})
}

// Process applies the disposition to every returned item and closes the return.
// The package becomes returned once every one of its items went through a
// processed return.
func (p *Processor) Process(ctx context.Context, returnID string, disposition Disposition, notes string) (*Return, error) {
	if err := disposition.Validate(); err != nil {
		return nil, apperror.NewValidation(err.Error())
	}
	return p.transition(ctx, returnID, StatusProcessed, notes, func(ctx context.Context, r *Return, trail *audit.Batch) error {
		var err error
		switch disposition {
		case DispositionRestocked:
			_, err = p.ledger.Restock(ctx, r.ItemIDs(), notes, r.ID, trail)
		case DispositionDamaged:
			_, err = p.ledger.Transition(ctx, r.ItemIDs(), ledger.ItemDamaged, notes, r.ID, trail)
		}
		if err != nil {
			return err
		}

		at := p.now()
		r.Disposition = disposition
		r.ProcessedDate = &at
		r.ProcessedBy = appctx.GetUserID(ctx)
		if r.ReceivedDate == nil {
			r.ReceivedDate = &at
		}
		if r.TransportID != "" {
			if err := p.transports.AdvanceReverse(ctx, r.TransportID, transport.StatusDelivered, notes, trail); err != nil {
				return err
			}
		}
		return p.settlePackage(ctx, r, notes, trail)
	})
}

type mutation func(ctx context.Context, r *Return, trail *audit.Batch) error

// transition runs the shared read-check-write sequence for return status changes.
func (p *Processor) transition(ctx context.Context, returnID string, to Status, notes string, apply mutation) (*Return, error) {
	ctx, span := tracer.Start(ctx, "returns."+string(to),
		trace.WithAttributes(attribute.String("return.id", returnID)))
	defer span.End()

	var (
		updated *Return
		trail   audit.Batch
	)
	err := p.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		trail.Begin(p.now)
		r, err := p.repo.GetForUpdate(ctx, returnID)
		if err != nil {
			return err
		}
		from := r.Status
		if err := r.TransitionTo(to, p.now()); err != nil {
			return err
		}
		if err := apply(ctx, r, &trail); err != nil {
			return err
		}
		if notes != "" {
			r.Notes = notes
		}
		if err := p.repo.Update(ctx, r, from); err != nil {
			return err
		}

		eventType := events.ReturnStatusChanged
		if to == StatusProcessed {
			eventType = events.ReturnProcessed
		}
		if err := p.events.Publish(ctx, events.Event{
			Type:          eventType,
			AggregateType: audit.EntityReturn,
			AggregateID:   r.ID,
			Payload:       map[string]any{"packageId": r.PackageID, "from": from, "to": to, "disposition": r.Disposition},
			OccurredAt:    r.UpdatedAt,
		}); err != nil {
			return err
		}
		trail.Add("return."+string(to), audit.EntityReturn, r.ID,
			map[string]any{"from": from, "to": to, "notes": notes, "disposition": r.Disposition})
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	trail.Flush(ctx, p.audit)
	if to == StatusProcessed {
		p.packages.SyncOrder(ctx, updated.OrderID)
	}
	return updated, nil
}

// settlePackage releases the return's items from the package. The package
// becomes returned once processed returns cover all its items.
func (p *Processor) settlePackage(ctx context.Context, current *Return, notes string, trail *audit.Batch) error {
	pkg, err := p.packages.Repository().GetForUpdate(ctx, current.PackageID)
	if err != nil {
		return err
	}
	if !pkg.Status.CanTransitionTo(packaging.StatusReturned) {
		return nil
	}
	if err := p.packages.Release(ctx, pkg, current.ItemIDs(), current.ID, notes, trail); err != nil {
		return err
	}
	if pkg.Status == packaging.StatusReturned {
		logger.Debug(ctx, "all package items resolved", "package_id", pkg.ID)
	}
	return nil
}

func (p *Processor) acceptsReturns(s packaging.Status) bool {
	switch s {
	case packaging.StatusDelivered:
		return true
	case packaging.StatusInTransit:
		return p.opts.AllowInTransit
	}
	return false
}

// claimedItems maps item ids to the return already holding them.
func (p *Processor) claimedItems(ctx context.Context, packageID string) (map[string]string, error) {
	existing, err := p.repo.ListByPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	claimed := make(map[string]string)
	for _, r := range existing {
		for _, itemID := range r.ItemIDs() {
			claimed[itemID] = r.ID
		}
	}
	return claimed, nil
}

func (p *Processor) checkPolicy(pkg *packaging.Package, reason Reason, items []Item) error {
	if p.policy == nil {
		return nil
	}
	var qty int64
	for _, it := range items {
		qty += int64(it.Quantity)
	}
	var days int64
	if pkg.PackedAt != nil {
		days = int64(p.now().Sub(*pkg.PackedAt).Hours() / 24)
	}
	ok, err := p.policy.Allow(policy.ReturnFacts{
		Reason:        string(reason),
		PackageStatus: string(pkg.Status),
		DaysSincePack: days,
		Quantity:      qty,
	})
	if err != nil {
		return apperror.NewInternal(err)
	}
	if !ok {
		return apperror.NewValidation("return is not allowed by the return policy").
			WithDetail("policy", p.policy.Expression())
	}
	return nil
}

// Get returns a return by id.
func (p *Processor) Get(ctx context.Context, returnID string) (*Return, error) {
	return p.repo.GetByID(ctx, returnID)
}

// ListByPackage returns all returns raised against a package.
func (p *Processor) ListByPackage(ctx context.Context, packageID string) ([]*Return, error) {
	return p.repo.ListByPackage(ctx, packageID)
}
