package transport

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
	"stockflow/internal/domain/audit"
	"stockflow/internal/domain/events"
	"stockflow/internal/domain/ledger"
	"stockflow/internal/domain/packaging"
)

var tracer = otel.Tracer("stockflow/transport")

// Service is the Transport Assigner.
type Service struct {
	txm      tx.Manager
	repo     Repository
	packages *packaging.Service
	ledger   *ledger.Service
	events   events.Publisher
	audit    *audit.Recorder
	now      func() time.Time
}

// NewService creates the Transport Assigner.
func NewService(
	txm tx.Manager,
	repo Repository,
	packages *packaging.Service,
	ledgerSvc *ledger.Service,
	publisher events.Publisher,
	recorder *audit.Recorder,
) *Service {
	return &Service{
		txm:      txm,
		repo:     repo,
		packages: packages,
		ledger:   ledgerSvc,
		events:   publisher,
		audit:    recorder,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Used in tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Assign attaches a transporter to a package's forward leg, replacing any
// previous forward assignment. A ready package moves to dispatched and its
// items with it; an already dispatched package keeps its status.
func (s *Service) Assign(ctx context.Context, packageID, transporterID, notes string) (*Transport, error) {
	ctx, span := tracer.Start(ctx, "transport.Assign",
		trace.WithAttributes(attribute.String("package.id", packageID)))
	defer span.End()

	if transporterID == "" {
		return nil, apperror.NewValidation("transporterId is required")
	}

	var (
		assigned *Transport
		orderID  string
		trail    audit.Batch
	)
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		trail.Begin(s.now)
		p, err := s.packages.Repository().GetForUpdate(ctx, packageID)
		if err != nil {
			return err
		}
		if p.Status.IsTerminal() {
			return apperror.NewTerminalPackageState(p.ID, p.Status)
		}
		if p.Status == packaging.StatusCreated {
			return apperror.NewInvalidStateTransition("package", p.Status, packaging.StatusDispatched).
				WithDetail("package_id", p.ID)
		}

		previous, err := s.repo.GetActive(ctx, p.ID)
		switch {
		case err == nil:
			if err := s.repo.DeleteActive(ctx, p.ID); err != nil {
				return err
			}
			trail.Add("transport.superseded", audit.EntityTransport, previous.ID, map[string]any{
				"packageId":     p.ID,
				"transporterId": previous.TransporterID,
			})
		case !apperror.IsNotFound(err):
			return err
		}

		t := s.newTransport(ctx, p.ID, "", transporterID, DirectionForward, notes)
		if err := s.repo.Create(ctx, t); err != nil {
			return err
		}

		if p.Status == packaging.StatusReadyForDispatch {
			if _, err := s.ledger.Transition(ctx, p.ItemIDs(), ledger.ItemDispatched, notes, t.ID, &trail); err != nil {
				return err
			}
			if err := s.packages.Advance(ctx, p, packaging.StatusDispatched, notes, &trail); err != nil {
				return err
			}
		}

		if err := s.events.Publish(ctx, events.Event{
			Type:          events.TransportAssigned,
			AggregateType: audit.EntityTransport,
			AggregateID:   t.ID,
			Payload:       t,
			OccurredAt:    t.CreatedAt,
		}); err != nil {
			return err
		}
		trail.Add("transport.assigned", audit.EntityTransport, t.ID, map[string]any{
			"packageId":     p.ID,
			"transporterId": transporterID,
			"direction":     DirectionForward,
			"notes":         notes,
		})

		assigned = t
		orderID = p.OrderID
		return nil
	})
	if err != nil {
		return nil, err
	}

	trail.Flush(ctx, s.audit)
	s.packages.SyncOrder(ctx, orderID)
	return assigned, nil
}

// UpdateStatus advances a forward transport: dispatched -> in_transit -> delivered.
// Delivery marks the package and its dispatched items delivered.
func (s *Service) UpdateStatus(ctx context.Context, transportID string, to Status, notes string) (*Transport, error) {
	ctx, span := tracer.Start(ctx, "transport.UpdateStatus",
		trace.WithAttributes(attribute.String("transport.id", transportID), attribute.String("to", string(to))))
	defer span.End()

	if err := to.Validate(); err != nil {
		return nil, apperror.NewValidation(err.Error())
	}

	var (
		updated *Transport
		orderID string
		trail   audit.Batch
	)
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		trail.Begin(s.now)
		t, err := s.repo.GetForUpdate(ctx, transportID)
		if err != nil {
			return err
		}
		if t.Direction != DirectionForward {
			return apperror.NewValidation("reverse transports advance through the return workflow").
				WithDetail("transport_id", t.ID).
				WithDetail("return_id", t.ReturnID)
		}

		p, err := s.packages.Repository().GetForUpdate(ctx, t.PackageID)
		if err != nil {
			return err
		}
		if err := s.advance(ctx, t, to, notes, &trail); err != nil {
			return err
		}

		switch to {
		case StatusInTransit:
			if p.Status == packaging.StatusDispatched {
				if err := s.packages.Advance(ctx, p, packaging.StatusInTransit, notes, &trail); err != nil {
					return err
				}
			}
		case StatusDelivered:
			if err := s.packages.Advance(ctx, p, packaging.StatusDelivered, notes, &trail); err != nil {
				return err
			}
			if err := s.deliverItems(ctx, p, notes, &trail); err != nil {
				return err
			}
		}

		updated = t
		orderID = p.OrderID
		return nil
	})
	if err != nil {
		return nil, err
	}

	trail.Flush(ctx, s.audit)
	s.packages.SyncOrder(ctx, orderID)
	return updated, nil
}

// UpdateStatusByPackage advances the package's active forward transport.
func (s *Service) UpdateStatusByPackage(ctx context.Context, packageID string, to Status, notes string) (*Transport, error) {
	t, err := s.repo.GetActive(ctx, packageID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewNotFound("transport", packageID).WithDetail("package_id", packageID)
		}
		return nil, err
	}
	return s.UpdateStatus(ctx, t.ID, to, notes)
}

// deliverItems marks the package's dispatched items delivered. Items taken
// back by an in-transit return are left alone.
func (s *Service) deliverItems(ctx context.Context, p *packaging.Package, notes string, trail *audit.Batch) error {
	items, err := s.ledger.GetItems(ctx, p.HeldItemIDs())
	if err != nil {
		return err
	}
	var ids []string
	for _, it := range items {
		if it.Status == ledger.ItemDispatched {
			ids = append(ids, it.ID)
		}
	}
	_, err = s.ledger.Transition(ctx, ids, ledger.ItemDelivered, notes, p.ID, trail)
	return err
}

// AssignReverse creates the pickup leg for a return. Must run inside the
// caller's transaction. Legs of other returns against the same package are
// left alone; an earlier leg of this return is replaced.
func (s *Service) AssignReverse(ctx context.Context, packageID, returnID, transporterID, notes string, trail *audit.Batch) (*Transport, error) {
	if transporterID == "" {
		return nil, apperror.NewValidation("transporterId is required")
	}
	previous, err := s.repo.GetActiveForReturn(ctx, returnID)
	switch {
	case err == nil:
		if err := s.repo.DeleteActiveForReturn(ctx, returnID); err != nil {
			return nil, err
		}
		trail.Add("transport.superseded", audit.EntityTransport, previous.ID, map[string]any{
			"packageId": packageID,
			"returnId":  previous.ReturnID,
		})
	case !apperror.IsNotFound(err):
		return nil, err
	}

	t := s.newTransport(ctx, packageID, returnID, transporterID, DirectionReverse, notes)
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	if err := s.events.Publish(ctx, events.Event{
		Type:          events.TransportAssigned,
		AggregateType: audit.EntityTransport,
		AggregateID:   t.ID,
		Payload:       t,
		OccurredAt:    t.CreatedAt,
	}); err != nil {
		return nil, err
	}
	trail.Add("transport.assigned", audit.EntityTransport, t.ID, map[string]any{
		"packageId":     packageID,
		"returnId":      returnID,
		"transporterId": transporterID,
		"direction":     DirectionReverse,
	})
	return t, nil
}

// AdvanceReverse moves a reverse leg forward. Must run inside the caller's transaction.
// Moving to the current status is a no-op.
func (s *Service) AdvanceReverse(ctx context.Context, transportID string, to Status, notes string, trail *audit.Batch) error {
	t, err := s.repo.GetForUpdate(ctx, transportID)
	if err != nil {
		return err
	}
	if t.Status == to {
		return nil
	}
	if t.Status == StatusDispatched && to == StatusDelivered {
		if err := s.advance(ctx, t, StatusInTransit, notes, trail); err != nil {
			return err
		}
	}
	return s.advance(ctx, t, to, notes, trail)
}

func (s *Service) advance(ctx context.Context, t *Transport, to Status, notes string, trail *audit.Batch) error {
	from := t.Status
	if err := t.TransitionTo(to, notes, appctx.GetUserID(ctx), s.now()); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, t, from); err != nil {
		return err
	}
	if err := s.events.Publish(ctx, events.Event{
		Type:          events.TransportStatusChanged,
		AggregateType: audit.EntityTransport,
		AggregateID:   t.ID,
		Payload:       map[string]any{"packageId": t.PackageID, "direction": t.Direction, "from": from, "to": to},
		OccurredAt:    t.UpdatedAt,
	}); err != nil {
		return err
	}
	trail.Add("transport."+string(to), audit.EntityTransport, t.ID,
		map[string]any{"from": from, "to": to, "notes": notes})
	return nil
}

func (s *Service) newTransport(ctx context.Context, packageID, returnID, transporterID string, dir Direction, notes string) *Transport {
	now := s.now()
	actor := appctx.GetUserID(ctx)
	return &Transport{
		ID:            id.NewBusiness(id.PrefixTransport),
		PackageID:     packageID,
		ReturnID:      returnID,
		TransporterID: transporterID,
		Direction:     dir,
		AssignedBy:    actor,
		Status:        StatusDispatched,
		History: []HistoryEntry{{
			Status:    StatusDispatched,
			Timestamp: now,
			Notes:     notes,
			ChangedBy: actor,
		}},
		Notes:     notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Get returns a transport by id.
func (s *Service) Get(ctx context.Context, transportID string) (*Transport, error) {
	return s.repo.GetByID(ctx, transportID)
}

// ListByPackage returns the active transports of a package.
func (s *Service) ListByPackage(ctx context.Context, packageID string) ([]*Transport, error) {
	return s.repo.ListByPackage(ctx, packageID)
}
