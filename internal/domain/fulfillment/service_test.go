package fulfillment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockflow/internal/core/apperror"
	appctx "stockflow/internal/core/context"
	"stockflow/internal/core/policy"
	"stockflow/internal/domain/allocation"
	"stockflow/internal/domain/audit"
	"stockflow/internal/domain/fulfillment"
	"stockflow/internal/domain/ledger"
	"stockflow/internal/domain/order"
	"stockflow/internal/domain/packaging"
	"stockflow/internal/domain/returns"
	"stockflow/internal/domain/transport"
	"stockflow/internal/infrastructure/storage/memory"
)

type env struct {
	store *memory.Store
	sink  *audit.MemorySink
	svc   *fulfillment.Service
	ctx   context.Context
}

func newEnv(t *testing.T, cfg fulfillment.Config) *env {
	t.Helper()
	store := memory.New()
	sink := audit.NewMemorySink()
	svc := fulfillment.New(store, audit.NewRecorder(sink), cfg)

	ctx := appctx.WithUser(context.Background(), &appctx.UserContext{UserID: "U1", Roles: []string{"manager"}})
	require.NoError(t, store.Products().Put(ctx, &packaging.Product{
		ID:         "P1",
		Name:       "Widget",
		SKU:        "W-1",
		UnitWeight: decimal.RequireFromString("0.5"),
		UnitVolume: decimal.RequireFromString("0.1"),
		UnitPrice:  decimal.RequireFromString("10"),
	}))
	return &env{store: store, sink: sink, svc: svc, ctx: ctx}
}

func (e *env) receive(t *testing.T, productID string, qty int) (*ledger.Batch, []*ledger.Item) {
	t.Helper()
	b, items, err := e.svc.Ledger.Receive(e.ctx, ledger.ReceiveInput{ProductID: productID, WarehouseID: "W1", Quantity: qty})
	require.NoError(t, err)
	return b, items
}

func (e *env) place(t *testing.T, qty int) *fulfillment.PlaceOrderResult {
	t.Helper()
	res, err := e.svc.PlaceOrder(e.ctx, fulfillment.PlaceOrderInput{
		CustomerRef: "C1",
		WarehouseID: "W1",
		Lines:       []allocation.Line{{ProductID: "P1", Quantity: qty}},
	})
	require.NoError(t, err)
	require.Len(t, res.Packages, 1)
	return res
}

func (e *env) itemStatuses(t *testing.T, ids []string) map[ledger.ItemStatus]int {
	t.Helper()
	items, err := e.svc.Ledger.GetItems(e.ctx, ids)
	require.NoError(t, err)
	out := make(map[ledger.ItemStatus]int)
	for _, it := range items {
		out[it.Status]++
	}
	return out
}

func (e *env) orderStatus(t *testing.T, orderID string) order.Status {
	t.Helper()
	view, err := e.svc.GetOrder(e.ctx, orderID)
	require.NoError(t, err)
	return view.Order.Status
}

// deliver runs the forward leg: pack, assign, in_transit, delivered.
func (e *env) deliver(t *testing.T, pkgID string) {
	t.Helper()
	_, err := e.svc.Packages.Pack(e.ctx, pkgID, "")
	require.NoError(t, err)
	tr, err := e.svc.Transports.Assign(e.ctx, pkgID, "T1", "")
	require.NoError(t, err)
	_, err = e.svc.Transports.UpdateStatus(e.ctx, tr.ID, transport.StatusInTransit, "")
	require.NoError(t, err)
	_, err = e.svc.Transports.UpdateStatus(e.ctx, tr.ID, transport.StatusDelivered, "")
	require.NoError(t, err)
}

func TestForwardFlow(t *testing.T) {
	e := newEnv(t, fulfillment.Config{})
	_, items := e.receive(t, "P1", 5)

	res := e.place(t, 5)
	pkg := res.Packages[0]
	assert.Equal(t, order.StatusAllocated, res.Order.Status)
	assert.Equal(t, packaging.StatusCreated, pkg.Status)
	assert.Equal(t, 5, pkg.ItemCount())
	assert.True(t, decimal.RequireFromString("50").Equal(pkg.Totals.Value))
	assert.True(t, decimal.RequireFromString("2.5").Equal(pkg.Totals.Weight))

	packed, err := e.svc.Packages.Pack(e.ctx, pkg.ID, "boxed")
	require.NoError(t, err)
	assert.Equal(t, packaging.StatusReadyForDispatch, packed.Status)
	assert.Equal(t, "U1", packed.PackedBy)
	assert.Equal(t, map[ledger.ItemStatus]int{ledger.ItemPacked: 5}, e.itemStatuses(t, pkg.ItemIDs()))
	assert.Equal(t, order.StatusPackaged, e.orderStatus(t, res.Order.ID))

	tr, err := e.svc.Transports.Assign(e.ctx, pkg.ID, "T1", "")
	require.NoError(t, err)
	assert.Equal(t, transport.StatusDispatched, tr.Status)
	assert.Equal(t, "U1", tr.AssignedBy)

	view, err := e.svc.GetPackage(e.ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, packaging.StatusDispatched, view.Package.Status)
	assert.Equal(t, order.StatusDispatched, e.orderStatus(t, res.Order.ID))

	_, err = e.svc.Transports.UpdateStatus(e.ctx, tr.ID, transport.StatusInTransit, "on the road")
	require.NoError(t, err)
	delivered, err := e.svc.Transports.UpdateStatus(e.ctx, tr.ID, transport.StatusDelivered, "")
	require.NoError(t, err)
	assert.Len(t, delivered.History, 3)

	got, err := e.svc.Packages.Get(e.ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, packaging.StatusDelivered, got.Status)
	assert.Equal(t, map[ledger.ItemStatus]int{ledger.ItemDelivered: 5}, e.itemStatuses(t, pkg.ItemIDs()))
	assert.Equal(t, order.StatusDelivered, e.orderStatus(t, res.Order.ID))

	// allocated items are exactly the received ones
	assert.ElementsMatch(t, ids(items), pkg.ItemIDs())
}

func TestReturnFlow_Damaged(t *testing.T) {
	e := newEnv(t, fulfillment.Config{})
	e.receive(t, "P1", 5)
	res := e.place(t, 5)
	pkg := res.Packages[0]
	e.deliver(t, pkg.ID)

	entry := pkg.Allocations[0]
	returned := entry.ItemIDs[:2]
	ret, err := e.svc.Returns.Initiate(e.ctx, returns.InitiateInput{
		PackageID: pkg.ID,
		Reason:    returns.ReasonDamaged,
		Items:     []returns.Item{{ProductID: "P1", BatchID: entry.BatchID, Quantity: 2, ItemIDs: returned}},
	})
	require.NoError(t, err)
	assert.Equal(t, returns.StatusInitiated, ret.Status)
	assert.Equal(t, res.Order.ID, ret.OrderID)

	ret, err = e.svc.Returns.SchedulePickup(e.ctx, ret.ID, "T2", "")
	require.NoError(t, err)
	assert.Equal(t, returns.StatusPickupScheduled, ret.Status)
	require.NotEmpty(t, ret.TransportID)

	ret, err = e.svc.Returns.MarkPickedUp(e.ctx, ret.ID, "")
	require.NoError(t, err)
	assert.Equal(t, map[ledger.ItemStatus]int{ledger.ItemReturned: 2}, e.itemStatuses(t, returned))

	ret, err = e.svc.Returns.Process(e.ctx, ret.ID, returns.DispositionDamaged, "crushed")
	require.NoError(t, err)
	assert.Equal(t, returns.StatusProcessed, ret.Status)
	assert.Equal(t, returns.DispositionDamaged, ret.Disposition)
	assert.Equal(t, "U1", ret.ProcessedBy)
	require.NotNil(t, ret.ProcessedDate)

	assert.Equal(t, map[ledger.ItemStatus]int{ledger.ItemDamaged: 2}, e.itemStatuses(t, returned))
	assert.Equal(t, map[ledger.ItemStatus]int{ledger.ItemDelivered: 3}, e.itemStatuses(t, entry.ItemIDs[2:]))

	// partial return leaves the package delivered
	got, err := e.svc.Packages.Get(e.ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, packaging.StatusDelivered, got.Status)

	reverse, err := e.svc.Transports.Get(e.ctx, ret.TransportID)
	require.NoError(t, err)
	assert.Equal(t, transport.DirectionReverse, reverse.Direction)
	assert.Equal(t, transport.StatusDelivered, reverse.Status)
}

func TestReturnFlow_RestockWholePackage(t *testing.T) {
	e := newEnv(t, fulfillment.Config{})
	batch, _ := e.receive(t, "P1", 3)
	res := e.place(t, 3)
	pkg := res.Packages[0]
	e.deliver(t, pkg.ID)

	all := pkg.ItemIDs()
	ret, err := e.svc.Returns.Initiate(e.ctx, returns.InitiateInput{
		PackageID: pkg.ID,
		Reason:    returns.ReasonCustomerRequest,
		Items:     []returns.Item{{ProductID: "P1", BatchID: batch.ID, Quantity: 3, ItemIDs: all}},
	})
	require.NoError(t, err)
	_, err = e.svc.Returns.SchedulePickup(e.ctx, ret.ID, "T2", "")
	require.NoError(t, err)
	_, err = e.svc.Returns.MarkPickedUp(e.ctx, ret.ID, "")
	require.NoError(t, err)
	_, err = e.svc.Returns.MarkReceived(e.ctx, ret.ID, "")
	require.NoError(t, err)
	_, err = e.svc.Returns.Process(e.ctx, ret.ID, returns.DispositionRestocked, "")
	require.NoError(t, err)

	items, err := e.svc.Ledger.GetItems(e.ctx, all)
	require.NoError(t, err)
	for _, it := range items {
		assert.Equal(t, ledger.ItemInStock, it.Status)
		assert.Equal(t, batch.ID, it.BatchID)
		assert.Equal(t, string(ledger.ItemRestocked), it.History[len(it.History)-2].Action)
	}

	got, err := e.svc.Packages.Get(e.ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, packaging.StatusReturned, got.Status)
	assert.Equal(t, order.StatusReturned, e.orderStatus(t, res.Order.ID))

	// restocked items are available again
	again := e.place(t, 3)
	assert.ElementsMatch(t, all, again.Packages[0].ItemIDs())
}

// runReturn drives a return of itemIDs from initiation to processing.
func (e *env) runReturn(t *testing.T, pkg *packaging.Package, itemIDs []string, transporterID string, disposition returns.Disposition) *returns.Return {
	t.Helper()
	entry := pkg.Allocations[0]
	ret, err := e.svc.Returns.Initiate(e.ctx, returns.InitiateInput{
		PackageID: pkg.ID,
		Reason:    returns.ReasonCustomerRequest,
		Items:     []returns.Item{{ProductID: "P1", BatchID: entry.BatchID, Quantity: len(itemIDs), ItemIDs: itemIDs}},
	})
	require.NoError(t, err)
	_, err = e.svc.Returns.SchedulePickup(e.ctx, ret.ID, transporterID, "")
	require.NoError(t, err)
	_, err = e.svc.Returns.MarkPickedUp(e.ctx, ret.ID, "")
	require.NoError(t, err)
	ret, err = e.svc.Returns.Process(e.ctx, ret.ID, disposition, "")
	require.NoError(t, err)
	return ret
}

func TestReturn_InTransitRestockedItemIsAllocatable(t *testing.T) {
	e := newEnv(t, fulfillment.Config{AllowInTransit: true})
	e.receive(t, "P1", 2)
	pkg := e.place(t, 2).Packages[0]
	_, err := e.svc.Packages.Pack(e.ctx, pkg.ID, "")
	require.NoError(t, err)
	tr, err := e.svc.Transports.Assign(e.ctx, pkg.ID, "T1", "")
	require.NoError(t, err)
	_, err = e.svc.Transports.UpdateStatus(e.ctx, tr.ID, transport.StatusInTransit, "")
	require.NoError(t, err)

	entry := pkg.Allocations[0]
	back, kept := entry.ItemIDs[0], entry.ItemIDs[1]
	e.runReturn(t, pkg, []string{back}, "T2", returns.DispositionRestocked)
	assert.Equal(t, map[ledger.ItemStatus]int{ledger.ItemInStock: 1}, e.itemStatuses(t, []string{back}))

	original, err := e.svc.Packages.Get(e.ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, packaging.StatusInTransit, original.Status)
	assert.Equal(t, []string{back}, original.Released)
	assert.Equal(t, []string{kept}, original.HeldItemIDs())

	// the restocked unit goes out again while its first package is on the road
	again := e.place(t, 1)
	assert.Equal(t, []string{back}, again.Packages[0].ItemIDs())
	assert.Equal(t, map[ledger.ItemStatus]int{ledger.ItemAllocated: 1}, e.itemStatuses(t, []string{back}))

	// delivering the first package leaves the reallocated unit alone
	_, err = e.svc.Transports.UpdateStatus(e.ctx, tr.ID, transport.StatusDelivered, "")
	require.NoError(t, err)
	assert.Equal(t, map[ledger.ItemStatus]int{ledger.ItemDelivered: 1}, e.itemStatuses(t, []string{kept}))
	assert.Equal(t, map[ledger.ItemStatus]int{ledger.ItemAllocated: 1}, e.itemStatuses(t, []string{back}))
}

func TestReturn_SeveralReturnsAgainstOnePackage(t *testing.T) {
	e := newEnv(t, fulfillment.Config{})
	e.receive(t, "P1", 5)
	res := e.place(t, 5)
	pkg := res.Packages[0]
	e.deliver(t, pkg.ID)
	all := pkg.Allocations[0].ItemIDs

	first, err := e.svc.Returns.Initiate(e.ctx, returns.InitiateInput{
		PackageID: pkg.ID,
		Reason:    returns.ReasonDamaged,
		Items:     []returns.Item{{ProductID: "P1", BatchID: pkg.Allocations[0].BatchID, Quantity: 2, ItemIDs: all[:2]}},
	})
	require.NoError(t, err)
	first, err = e.svc.Returns.SchedulePickup(e.ctx, first.ID, "T2", "")
	require.NoError(t, err)
	_, err = e.svc.Returns.MarkPickedUp(e.ctx, first.ID, "")
	require.NoError(t, err)

	// a second pickup on the same package gets its own leg
	second := e.runReturn(t, pkg, all[2:3], "T3", returns.DispositionRestocked)
	assert.NotEqual(t, first.TransportID, second.TransportID)

	first, err = e.svc.Returns.Process(e.ctx, first.ID, returns.DispositionDamaged, "")
	require.NoError(t, err)
	for _, r := range []*returns.Return{first, second} {
		leg, err := e.svc.Transports.Get(e.ctx, r.TransportID)
		require.NoError(t, err)
		assert.Equal(t, r.ID, leg.ReturnID)
		assert.Equal(t, transport.StatusDelivered, leg.Status)
	}

	got, err := e.svc.Packages.Get(e.ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, packaging.StatusDelivered, got.Status)
	assert.Equal(t, map[ledger.ItemStatus]int{ledger.ItemDelivered: 2}, e.itemStatuses(t, all[3:]))

	// the remaining items can still come back, which settles the package
	e.runReturn(t, pkg, all[3:], "T4", returns.DispositionRestocked)
	got, err = e.svc.Packages.Get(e.ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, packaging.StatusReturned, got.Status)
	assert.ElementsMatch(t, all, got.Released)
	assert.Equal(t, order.StatusReturned, e.orderStatus(t, res.Order.ID))
	assert.Equal(t, map[ledger.ItemStatus]int{ledger.ItemDamaged: 2, ledger.ItemInStock: 3}, e.itemStatuses(t, all))
}

func TestBatch_ClosedWhenDrainedReopenedOnRestock(t *testing.T) {
	e := newEnv(t, fulfillment.Config{})
	base := time.Now().UTC()
	older, _, err := e.svc.Ledger.Receive(e.ctx, ledger.ReceiveInput{
		ProductID: "P1", WarehouseID: "W1", Quantity: 2, ReceivedAt: base.Add(-48 * time.Hour),
	})
	require.NoError(t, err)
	newer, _, err := e.svc.Ledger.Receive(e.ctx, ledger.ReceiveInput{
		ProductID: "P1", WarehouseID: "W1", Quantity: 5, ReceivedAt: base.Add(-24 * time.Hour),
	})
	require.NoError(t, err)

	batchClosed := func(id string) bool {
		b, err := e.svc.Ledger.Repository().GetBatch(e.ctx, id)
		require.NoError(t, err)
		return b.Closed
	}

	pkg := e.place(t, 3).Packages[0]
	assert.True(t, batchClosed(older.ID))
	assert.False(t, batchClosed(newer.ID))
	assert.Len(t, e.sink.ForEntity(audit.EntityBatch, older.ID), 1)

	var fromOlder []string
	for _, a := range pkg.Allocations {
		if a.BatchID == older.ID {
			fromOlder = append(fromOlder, a.ItemIDs...)
		}
	}
	require.Len(t, fromOlder, 2)

	e.deliver(t, pkg.ID)
	ret, err := e.svc.Returns.Initiate(e.ctx, returns.InitiateInput{
		PackageID: pkg.ID,
		Reason:    returns.ReasonCustomerRequest,
		Items:     []returns.Item{{ProductID: "P1", BatchID: older.ID, Quantity: 2, ItemIDs: fromOlder}},
	})
	require.NoError(t, err)
	_, err = e.svc.Returns.SchedulePickup(e.ctx, ret.ID, "T2", "")
	require.NoError(t, err)
	_, err = e.svc.Returns.MarkPickedUp(e.ctx, ret.ID, "")
	require.NoError(t, err)
	_, err = e.svc.Returns.Process(e.ctx, ret.ID, returns.DispositionRestocked, "")
	require.NoError(t, err)

	assert.False(t, batchClosed(older.ID))
	assert.Len(t, e.sink.ForEntity(audit.EntityBatch, older.ID), 2)
}

func TestPackTwice(t *testing.T) {
	e := newEnv(t, fulfillment.Config{})
	e.receive(t, "P1", 2)
	pkg := e.place(t, 2).Packages[0]

	_, err := e.svc.Packages.Pack(e.ctx, pkg.ID, "")
	require.NoError(t, err)
	_, err = e.svc.Packages.Pack(e.ctx, pkg.ID, "")
	assert.Equal(t, apperror.CodeAlreadyPacked, apperror.Code(err))

	items, err := e.svc.Ledger.GetItems(e.ctx, pkg.ItemIDs())
	require.NoError(t, err)
	for _, it := range items {
		assert.Equal(t, ledger.ItemPacked, it.Status)
		assert.Equal(t, 1, countActions(it, ledger.ItemPacked))
	}
}

func TestPack_Concurrent(t *testing.T) {
	e := newEnv(t, fulfillment.Config{})
	e.receive(t, "P1", 4)
	pkg := e.place(t, 4).Packages[0]

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.Packages.Pack(e.ctx, pkg.ID, "")
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var ok, already int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperror.Code(err) == apperror.CodeAlreadyPacked:
			already++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, already)
	assert.Len(t, e.sink.ForEntity(audit.EntityPackage, pkg.ID), 2) // created + packed
}

func TestPack_NotFound(t *testing.T) {
	e := newEnv(t, fulfillment.Config{})
	_, err := e.svc.Packages.Pack(e.ctx, "PKG-missing", "")
	assert.True(t, apperror.IsNotFound(err))
}

func TestPackages_DisjointItems(t *testing.T) {
	e := newEnv(t, fulfillment.Config{MaxItemsPerPackage: 2})
	e.receive(t, "P1", 6)

	first, err := e.svc.PlaceOrder(e.ctx, fulfillment.PlaceOrderInput{
		WarehouseID: "W1",
		Lines:       []allocation.Line{{ProductID: "P1", Quantity: 3}},
	})
	require.NoError(t, err)
	require.Len(t, first.Packages, 2)
	second, err := e.svc.PlaceOrder(e.ctx, fulfillment.PlaceOrderInput{
		WarehouseID: "W1",
		Lines:       []allocation.Line{{ProductID: "P1", Quantity: 3}},
	})
	require.NoError(t, err)

	seen := make(map[string]string)
	for _, p := range append(first.Packages, second.Packages...) {
		for _, itemID := range p.ItemIDs() {
			owner, dup := seen[itemID]
			assert.False(t, dup, "item %s in %s and %s", itemID, owner, p.ID)
			seen[itemID] = p.ID
		}
	}
	assert.Len(t, seen, 6)

	// reusing held items for a new package is refused
	held := first.Packages[0].Allocations[0]
	err = e.store.RunInTransaction(e.ctx, func(ctx context.Context) error {
		_, err := e.svc.Packages.Create(ctx, packaging.CreateInput{
			OrderID: "ORD-x",
			Allocations: []allocation.Allocation{{
				ProductID: held.ProductID, BatchID: held.BatchID, Quantity: held.Quantity, ItemIDs: held.ItemIDs,
			}},
		}, &audit.Batch{})
		return err
	})
	assert.Equal(t, apperror.CodeConflict, apperror.Code(err))
}

func TestAssignTwice(t *testing.T) {
	e := newEnv(t, fulfillment.Config{})
	e.receive(t, "P1", 1)
	pkg := e.place(t, 1).Packages[0]
	_, err := e.svc.Packages.Pack(e.ctx, pkg.ID, "")
	require.NoError(t, err)

	first, err := e.svc.Transports.Assign(e.ctx, pkg.ID, "T1", "")
	require.NoError(t, err)
	second, err := e.svc.Transports.Assign(e.ctx, pkg.ID, "T2", "")
	require.NoError(t, err)

	active, err := e.svc.Transports.ListByPackage(e.ctx, pkg.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
	assert.Equal(t, "T2", active[0].TransporterID)

	_, err = e.svc.Transports.Get(e.ctx, first.ID)
	assert.True(t, apperror.IsNotFound(err))

	got, err := e.svc.Packages.Get(e.ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, packaging.StatusDispatched, got.Status)
	assert.NotEmpty(t, e.sink.ForEntity(audit.EntityTransport, first.ID))
}

func TestAssign_Rejections(t *testing.T) {
	e := newEnv(t, fulfillment.Config{})
	e.receive(t, "P1", 2)
	pkg := e.place(t, 2).Packages[0]

	_, err := e.svc.Transports.Assign(e.ctx, pkg.ID, "T1", "")
	assert.Equal(t, apperror.CodeInvalidStateTransition, apperror.Code(err), "created package")

	_, err = e.svc.Transports.Assign(e.ctx, pkg.ID, "", "")
	assert.Equal(t, apperror.CodeValidation, apperror.Code(err))

	_, err = e.svc.Transports.Assign(e.ctx, "PKG-missing", "T1", "")
	assert.True(t, apperror.IsNotFound(err))

	e.deliver(t, pkg.ID)
	_, err = e.svc.Transports.Assign(e.ctx, pkg.ID, "T9", "")
	assert.Equal(t, apperror.CodeTerminalPackageState, apperror.Code(err))
	assert.Equal(t, 400, apperror.GetHTTPStatus(err))
}

func TestUpdateStatus_DeliveredRequiresInTransit(t *testing.T) {
	e := newEnv(t, fulfillment.Config{})
	e.receive(t, "P1", 1)
	pkg := e.place(t, 1).Packages[0]
	_, err := e.svc.Packages.Pack(e.ctx, pkg.ID, "")
	require.NoError(t, err)
	tr, err := e.svc.Transports.Assign(e.ctx, pkg.ID, "T1", "")
	require.NoError(t, err)

	_, err = e.svc.Transports.UpdateStatus(e.ctx, tr.ID, transport.StatusDelivered, "")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeInvalidStateTransition, apperror.Code(err))
	assert.Contains(t, err.Error(), "dispatched")
	assert.Contains(t, err.Error(), "delivered")

	_, err = e.svc.Transports.UpdateStatus(e.ctx, tr.ID, "lost", "")
	assert.Equal(t, apperror.CodeValidation, apperror.Code(err))

	got, err := e.svc.Transports.Get(e.ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, transport.StatusDispatched, got.Status)
	assert.Len(t, got.History, 1)
}

func TestReturn_QuantityAgainstShipped(t *testing.T) {
	e := newEnv(t, fulfillment.Config{})
	e.receive(t, "P1", 3)
	pkg := e.place(t, 3).Packages[0]
	e.deliver(t, pkg.ID)
	entry := pkg.Allocations[0]

	_, err := e.svc.Returns.Initiate(e.ctx, returns.InitiateInput{
		PackageID: pkg.ID,
		Reason:    returns.ReasonDefective,
		Items: []returns.Item{{
			ProductID: "P1", BatchID: entry.BatchID, Quantity: 4,
			ItemIDs: append(append([]string(nil), entry.ItemIDs...), "ITM-extra"),
		}},
	})
	assert.Equal(t, apperror.CodeInvalidReturnItems, apperror.Code(err))

	ret, err := e.svc.Returns.Initiate(e.ctx, returns.InitiateInput{
		PackageID: pkg.ID,
		Reason:    returns.ReasonDefective,
		Items:     []returns.Item{{ProductID: "P1", BatchID: entry.BatchID, Quantity: 3, ItemIDs: entry.ItemIDs}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, ret.Items[0].Quantity)

	// the same items cannot be returned twice
	_, err = e.svc.Returns.Initiate(e.ctx, returns.InitiateInput{
		PackageID: pkg.ID,
		Reason:    returns.ReasonDefective,
		Items:     []returns.Item{{ProductID: "P1", BatchID: entry.BatchID, Quantity: 1, ItemIDs: entry.ItemIDs[:1]}},
	})
	assert.Equal(t, apperror.CodeInvalidReturnItems, apperror.Code(err))
}

func TestReturn_OutOfOrder(t *testing.T) {
	e := newEnv(t, fulfillment.Config{})
	e.receive(t, "P1", 1)
	pkg := e.place(t, 1).Packages[0]
	e.deliver(t, pkg.ID)
	entry := pkg.Allocations[0]

	ret, err := e.svc.Returns.Initiate(e.ctx, returns.InitiateInput{
		PackageID: pkg.ID,
		Reason:    returns.ReasonWrongItem,
		Items:     []returns.Item{{ProductID: "P1", BatchID: entry.BatchID, Quantity: 1, ItemIDs: entry.ItemIDs}},
	})
	require.NoError(t, err)

	_, err = e.svc.Returns.MarkPickedUp(e.ctx, ret.ID, "")
	assert.Equal(t, apperror.CodeInvalidStateTransition, apperror.Code(err))
	assert.Contains(t, err.Error(), "initiated")
	assert.Contains(t, err.Error(), "picked_up")

	_, err = e.svc.Returns.Process(e.ctx, ret.ID, returns.DispositionRestocked, "")
	assert.Equal(t, apperror.CodeInvalidStateTransition, apperror.Code(err))

	_, err = e.svc.Returns.Process(e.ctx, ret.ID, "lost", "")
	assert.Equal(t, apperror.CodeValidation, apperror.Code(err))

	_, err = e.svc.Returns.SchedulePickup(e.ctx, "RET-missing", "T1", "")
	assert.True(t, apperror.IsNotFound(err))

	// items untouched by the rejected calls
	assert.Equal(t, map[ledger.ItemStatus]int{ledger.ItemDelivered: 1}, e.itemStatuses(t, entry.ItemIDs))
}

func TestReturn_PackageNotDelivered(t *testing.T) {
	e := newEnv(t, fulfillment.Config{})
	e.receive(t, "P1", 1)
	pkg := e.place(t, 1).Packages[0]
	entry := pkg.Allocations[0]
	in := returns.InitiateInput{
		PackageID: pkg.ID,
		Reason:    returns.ReasonDamaged,
		Items:     []returns.Item{{ProductID: "P1", BatchID: entry.BatchID, Quantity: 1, ItemIDs: entry.ItemIDs}},
	}

	_, err := e.svc.Returns.Initiate(e.ctx, in)
	assert.Equal(t, apperror.CodeInvalidStateTransition, apperror.Code(err))

	_, err = e.svc.Returns.Initiate(e.ctx, returns.InitiateInput{PackageID: pkg.ID, Reason: "bored", Items: in.Items})
	assert.Equal(t, apperror.CodeValidation, apperror.Code(err))
}

func TestReturn_InTransitWhenAllowed(t *testing.T) {
	e := newEnv(t, fulfillment.Config{AllowInTransit: true})
	e.receive(t, "P1", 2)
	pkg := e.place(t, 2).Packages[0]
	_, err := e.svc.Packages.Pack(e.ctx, pkg.ID, "")
	require.NoError(t, err)
	tr, err := e.svc.Transports.Assign(e.ctx, pkg.ID, "T1", "")
	require.NoError(t, err)
	_, err = e.svc.Transports.UpdateStatus(e.ctx, tr.ID, transport.StatusInTransit, "")
	require.NoError(t, err)

	entry := pkg.Allocations[0]
	ret, err := e.svc.Returns.Initiate(e.ctx, returns.InitiateInput{
		PackageID: pkg.ID,
		Reason:    returns.ReasonCustomerRequest,
		Items:     []returns.Item{{ProductID: "P1", BatchID: entry.BatchID, Quantity: 1, ItemIDs: entry.ItemIDs[:1]}},
	})
	require.NoError(t, err)
	_, err = e.svc.Returns.SchedulePickup(e.ctx, ret.ID, "T2", "")
	require.NoError(t, err)
	_, err = e.svc.Returns.MarkPickedUp(e.ctx, ret.ID, "")
	require.NoError(t, err)

	// delivery skips the item already returned from the truck
	_, err = e.svc.Transports.UpdateStatus(e.ctx, tr.ID, transport.StatusDelivered, "")
	require.NoError(t, err)
	assert.Equal(t, map[ledger.ItemStatus]int{ledger.ItemReturned: 1, ledger.ItemDelivered: 1}, e.itemStatuses(t, entry.ItemIDs))
}

func TestReturnPolicy(t *testing.T) {
	e := newEnv(t, fulfillment.Config{ReturnPolicy: policy.MustReturnPolicy(`reason != "customer_request" || quantity <= 1`)})
	e.receive(t, "P1", 2)
	pkg := e.place(t, 2).Packages[0]
	e.deliver(t, pkg.ID)
	entry := pkg.Allocations[0]

	_, err := e.svc.Returns.Initiate(e.ctx, returns.InitiateInput{
		PackageID: pkg.ID,
		Reason:    returns.ReasonCustomerRequest,
		Items:     []returns.Item{{ProductID: "P1", BatchID: entry.BatchID, Quantity: 2, ItemIDs: entry.ItemIDs}},
	})
	assert.Equal(t, apperror.CodeValidation, apperror.Code(err))

	_, err = e.svc.Returns.Initiate(e.ctx, returns.InitiateInput{
		PackageID: pkg.ID,
		Reason:    returns.ReasonDefective,
		Items:     []returns.Item{{ProductID: "P1", BatchID: entry.BatchID, Quantity: 2, ItemIDs: entry.ItemIDs}},
	})
	assert.NoError(t, err)
}

func TestPlaceOrder_InsufficientStock(t *testing.T) {
	e := newEnv(t, fulfillment.Config{})
	_, items := e.receive(t, "P1", 5)
	before := len(e.store.OutboxSource().Messages())

	_, err := e.svc.PlaceOrder(e.ctx, fulfillment.PlaceOrderInput{
		WarehouseID: "W1",
		Lines:       []allocation.Line{{ProductID: "P1", Quantity: 10}},
	})
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeInsufficientStock, appErr.Code)
	assert.Equal(t, "P1", appErr.Details["product_id"])
	assert.Equal(t, 5, appErr.Details["shortfall"])

	got, err := e.svc.Ledger.GetItems(e.ctx, ids(items))
	require.NoError(t, err)
	for _, it := range got {
		assert.Equal(t, ledger.ItemInStock, it.Status)
		assert.Len(t, it.History, 1)
	}
	unsettled, err := e.store.Orders().ListUnsettled(e.ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, unsettled)
	assert.Len(t, e.store.OutboxSource().Messages(), before)
	assert.Empty(t, e.sink.Entries())
}

func TestPlaceOrder_Validation(t *testing.T) {
	e := newEnv(t, fulfillment.Config{})
	_, err := e.svc.PlaceOrder(e.ctx, fulfillment.PlaceOrderInput{WarehouseID: "W1"})
	assert.Equal(t, apperror.CodeValidation, apperror.Code(err))
}

func TestSetPackageStatus(t *testing.T) {
	e := newEnv(t, fulfillment.Config{})
	e.receive(t, "P1", 1)
	pkg := e.place(t, 1).Packages[0]

	_, err := e.svc.SetPackageStatus(e.ctx, pkg.ID, packaging.StatusInTransit, "")
	assert.True(t, apperror.IsNotFound(err), "no transport yet")

	got, err := e.svc.SetPackageStatus(e.ctx, pkg.ID, packaging.StatusReadyForDispatch, "")
	require.NoError(t, err)
	assert.Equal(t, packaging.StatusReadyForDispatch, got.Status)

	_, err = e.svc.SetPackageStatus(e.ctx, pkg.ID, packaging.StatusReturned, "")
	assert.Equal(t, apperror.CodeInvalidStateTransition, apperror.Code(err))

	_, err = e.svc.SetPackageStatus(e.ctx, pkg.ID, "shipped", "")
	assert.Equal(t, apperror.CodeValidation, apperror.Code(err))

	_, err = e.svc.Transports.Assign(e.ctx, pkg.ID, "T1", "")
	require.NoError(t, err)
	got, err = e.svc.SetPackageStatus(e.ctx, pkg.ID, packaging.StatusInTransit, "")
	require.NoError(t, err)
	assert.Equal(t, packaging.StatusInTransit, got.Status)
}

func TestAuditFailureIsSwallowed(t *testing.T) {
	store := memory.New()
	sink := audit.NewMemorySink()
	var failures int
	recorder := audit.NewRecorder(sink, audit.WithFailureHook(func(error, []audit.Entry) { failures++ }))
	svc := fulfillment.New(store, recorder, fulfillment.Config{})
	ctx := context.Background()
	require.NoError(t, store.Products().Put(ctx, &packaging.Product{ID: "P1"}))
	_, _, err := svc.Ledger.Receive(ctx, ledger.ReceiveInput{ProductID: "P1", Quantity: 1})
	require.NoError(t, err)
	res, err := svc.PlaceOrder(ctx, fulfillment.PlaceOrderInput{Lines: []allocation.Line{{ProductID: "P1", Quantity: 1}}})
	require.NoError(t, err)

	sink.FailWith(errors.New("audit store down"))
	packed, err := svc.Packages.Pack(ctx, res.Packages[0].ID, "")
	require.NoError(t, err)
	assert.Equal(t, packaging.StatusReadyForDispatch, packed.Status)
	assert.Positive(t, failures)
}

func TestOutboxEvents(t *testing.T) {
	e := newEnv(t, fulfillment.Config{})
	e.receive(t, "P1", 1)
	pkg := e.place(t, 1).Packages[0]
	e.deliver(t, pkg.ID)

	var types []string
	for _, m := range e.store.OutboxSource().Messages() {
		types = append(types, m.EventType)
	}
	assert.Contains(t, types, "order.placed")
	assert.Contains(t, types, "package.packed")
	assert.Contains(t, types, "transport.assigned")
	assert.Contains(t, types, "package.status_changed")
}

func TestReconcile(t *testing.T) {
	e := newEnv(t, fulfillment.Config{})
	e.receive(t, "P1", 1)
	res := e.place(t, 1)

	// pack without the order syncer, as if the post-commit sync was lost
	orphan := fulfillment.New(e.store, audit.NewRecorder(audit.NewMemorySink()), fulfillment.Config{})
	orphan.Packages.SetOrderSyncer(nil)
	_, err := orphan.Packages.Pack(e.ctx, res.Packages[0].ID, "")
	require.NoError(t, err)
	assert.Equal(t, order.StatusAllocated, e.orderStatus(t, res.Order.ID))

	n, err := e.svc.Aggregator.Reconcile(e.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, order.StatusPackaged, e.orderStatus(t, res.Order.ID))
}

func TestClock(t *testing.T) {
	e := newEnv(t, fulfillment.Config{})
	fixed := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	e.svc.SetClock(func() time.Time { return fixed })
	e.receive(t, "P1", 1)
	pkg := e.place(t, 1).Packages[0]

	packed, err := e.svc.Packages.Pack(e.ctx, pkg.ID, "")
	require.NoError(t, err)
	require.NotNil(t, packed.PackedAt)
	assert.Equal(t, fixed, *packed.PackedAt)
}

func ids(items []*ledger.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func countActions(it *ledger.Item, status ledger.ItemStatus) int {
	n := 0
	for _, h := range it.History {
		if h.Action == string(status) {
			n++
		}
	}
	return n
}
