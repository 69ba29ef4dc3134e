package outbound_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/goodsflow/internal/catalog"
	"github.com/odyssey-erp/goodsflow/internal/contracts"
	"github.com/odyssey-erp/goodsflow/internal/inbound"
	"github.com/odyssey-erp/goodsflow/internal/ledger"
	"github.com/odyssey-erp/goodsflow/internal/outbound"
	"github.com/odyssey-erp/goodsflow/internal/platform/cache"
	"github.com/odyssey-erp/goodsflow/internal/platform/events"
	"github.com/odyssey-erp/goodsflow/internal/shared"
	"github.com/odyssey-erp/goodsflow/internal/testing/memstore"
	"github.com/odyssey-erp/goodsflow/internal/warehouses"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evts ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evts...)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store     *memstore.Store
	ledger    *ledger.Service
	svc       *outbound.Service
	publisher *recordingPublisher
	source    warehouses.Warehouse
	dest      warehouses.Warehouse
	variant   catalog.Variant
}

func newFixture(t *testing.T, deps outbound.Dependencies) *fixture {
	t.Helper()
	store := memstore.New()
	publisher := &recordingPublisher{}
	ledgerSvc := ledger.NewService(store.Ledger(), ledger.Dependencies{Warehouses: store, Variants: store, Publisher: publisher})
	deps.Ledger = ledgerSvc
	deps.Publisher = publisher
	deps.Audit = store
	return &fixture{
		store:     store,
		ledger:    ledgerSvc,
		svc:       outbound.NewService(store.Outbound(), deps),
		publisher: publisher,
		source:    store.AddWarehouse("WH-SRC", warehouses.TypeFactory, true),
		dest:      store.AddWarehouse("WH-DST", warehouses.TypeOverseas, true),
		variant:   store.AddVariant("SKU-BLUE"),
	}
}

func operator() context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{ID: 2, Role: shared.RoleOperator})
}

func manager() context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{ID: 3, Role: shared.RoleManager})
}

func (f *fixture) stock(t *testing.T, qty int64) {
	t.Helper()
	_, err := f.ledger.Adjust(manager(), ledger.AdjustmentInput{VariantID: f.variant.ID, WarehouseID: f.source.ID, Delta: qty, Note: "opening balance"})
	require.NoError(t, err)
}

func (f *fixture) order(t *testing.T, qty int64) outbound.Order {
	t.Helper()
	o, err := f.svc.CreateOutboundOrder(operator(), outbound.CreateOrderInput{
		VariantID: f.variant.ID, Qty: qty, SourceWarehouseID: f.source.ID, DestinationWarehouseID: f.dest.ID,
	})
	require.NoError(t, err)
	return o
}

func TestOutboundBatchesDebitAndTrackProgress(t *testing.T) {
	f := newFixture(t, outbound.Dependencies{})
	f.stock(t, 100)
	o := f.order(t, 100)
	require.Equal(t, outbound.OrderPending, o.Status)

	first, err := f.svc.CreateOutboundBatch(operator(), outbound.CreateBatchInput{OrderID: o.ID, Qty: 40})
	require.NoError(t, err)
	require.Equal(t, outbound.OrderPartial, first.Order.Status)
	require.Equal(t, outbound.BatchPendingShip, first.Batch.Status)
	require.Equal(t, f.source.ID, first.Batch.WarehouseID)
	require.Equal(t, ledger.ReasonSaleOutbound, first.Posting.Movement.Reason)
	require.Equal(t, int64(60), f.store.StockOf(f.variant.ID, f.source.ID).Quantity)

	_, err = f.svc.CreateOutboundBatch(operator(), outbound.CreateBatchInput{OrderID: o.ID, Qty: 70})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, int64(60), f.store.StockOf(f.variant.ID, f.source.ID).Quantity)

	second, err := f.svc.CreateOutboundBatch(operator(), outbound.CreateBatchInput{OrderID: o.ID, Qty: 60})
	require.NoError(t, err)
	require.Equal(t, outbound.OrderShipped, second.Order.Status)
	require.Zero(t, f.store.StockOf(f.variant.ID, f.source.ID).Quantity)

	_, err = f.svc.CreateOutboundBatch(operator(), outbound.CreateBatchInput{OrderID: o.ID, Qty: 1})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	batches, err := f.svc.ListBatches(operator(), o.ID)
	require.NoError(t, err)
	require.Len(t, batches, 2)

	logs := f.store.InventoryLogs()
	require.Len(t, logs, 2)
	require.Equal(t, ledger.LogTypeOut, logs[0].Type)
	require.Equal(t, ledger.LogStatusInTransit, logs[0].Status)
	require.Equal(t, f.dest.ID, logs[0].ToWarehouseID)

	require.Contains(t, f.publisher.types(), events.TypeOutboundBatch)
	require.Contains(t, f.publisher.types(), events.TypeStockMovement)
}

func TestOutboundBatchAboveOrderRemaining(t *testing.T) {
	f := newFixture(t, outbound.Dependencies{})
	f.stock(t, 500)
	o := f.order(t, 100)

	_, err := f.svc.CreateOutboundBatch(operator(), outbound.CreateBatchInput{OrderID: o.ID, Qty: 40})
	require.NoError(t, err)
	_, err = f.svc.CreateOutboundBatch(operator(), outbound.CreateBatchInput{OrderID: o.ID, Qty: 70})
	require.ErrorIs(t, err, outbound.ErrOverShip)
	require.NotErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, int64(460), f.store.StockOf(f.variant.ID, f.source.ID).Quantity)
	require.Len(t, f.store.MovementsOf(f.variant.ID, f.source.ID), 2)
}

func TestReceiveThenShipBeyondStock(t *testing.T) {
	f := newFixture(t, outbound.Dependencies{})
	receiveBatch(t, f, 100)
	stock := f.store.StockOf(f.variant.ID, f.source.ID)
	require.Equal(t, int64(100), stock.Quantity)
	require.Equal(t, int64(100), stock.Available)

	o := f.order(t, 100)
	_, err := f.svc.CreateOutboundBatch(operator(), outbound.CreateBatchInput{OrderID: o.ID, Qty: 40})
	require.NoError(t, err)
	_, err = f.svc.CreateOutboundBatch(operator(), outbound.CreateBatchInput{OrderID: o.ID, Qty: 70})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	stock = f.store.StockOf(f.variant.ID, f.source.ID)
	require.Equal(t, int64(60), stock.Quantity)
	require.Equal(t, int64(60), stock.Available)

	movements := f.store.MovementsOf(f.variant.ID, f.source.ID)
	require.Len(t, movements, 2)
	require.Equal(t, ledger.ReasonPurchaseInbound, movements[0].Reason)
	require.Equal(t, [2]int64{0, 100}, [2]int64{movements[0].QtyBefore, movements[0].QtyAfter})
	require.Equal(t, ledger.ReasonSaleOutbound, movements[1].Reason)
	require.Equal(t, [2]int64{100, 60}, [2]int64{movements[1].QtyBefore, movements[1].QtyAfter})

	got, err := f.svc.GetOrder(operator(), o.ID)
	require.NoError(t, err)
	require.Equal(t, int64(40), got.ShippedQty)
	require.Equal(t, outbound.OrderPartial, got.Status)
}

func TestOutboundBatchNeedsStock(t *testing.T) {
	f := newFixture(t, outbound.Dependencies{})
	f.stock(t, 5)
	o := f.order(t, 10)

	_, err := f.svc.CreateOutboundBatch(operator(), outbound.CreateBatchInput{OrderID: o.ID, Qty: 6})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	got, err := f.svc.GetOrder(operator(), o.ID)
	require.NoError(t, err)
	require.Zero(t, got.ShippedQty)
	batches, err := f.svc.ListBatches(operator(), o.ID)
	require.NoError(t, err)
	require.Empty(t, batches)
}

func TestCreateOutboundOrderChecksReferences(t *testing.T) {
	f := newFixture(t, outbound.Dependencies{})
	closed := f.store.AddWarehouse("WH-OFF", warehouses.TypeDomestic, false)

	_, err := f.svc.CreateOutboundOrder(operator(), outbound.CreateOrderInput{VariantID: 999, Qty: 1, SourceWarehouseID: f.source.ID})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.CreateOutboundOrder(operator(), outbound.CreateOrderInput{VariantID: f.variant.ID, Qty: 1, SourceWarehouseID: closed.ID})
	require.ErrorIs(t, err, warehouses.ErrInactive)

	_, err = f.svc.CreateOutboundOrder(operator(), outbound.CreateOrderInput{
		VariantID: f.variant.ID, Qty: 1, SourceWarehouseID: f.source.ID, DestinationWarehouseID: f.source.ID,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestOutboundBatchIdempotencyKey(t *testing.T) {
	f := newFixture(t, outbound.Dependencies{})
	f.stock(t, 10)
	o := f.order(t, 10)
	input := outbound.CreateBatchInput{OrderID: o.ID, Qty: 2, IdempotencyKey: "ship-1"}

	_, err := f.svc.CreateOutboundBatch(operator(), input)
	require.NoError(t, err)
	_, err = f.svc.CreateOutboundBatch(operator(), input)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Equal(t, int64(8), f.store.StockOf(f.variant.ID, f.source.ID).Quantity)
	short := outbound.CreateBatchInput{OrderID: o.ID, Qty: 50, IdempotencyKey: "ship-2"}
	_, err = f.svc.CreateOutboundBatch(operator(), short)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.False(t, f.store.HasIdempotencyKey("outbound.batch", "ship-2"))
	short.Qty = 3
	_, err = f.svc.CreateOutboundBatch(operator(), short)
	require.NoError(t, err)
	require.Equal(t, int64(5), f.store.StockOf(f.variant.ID, f.source.ID).Quantity)
}

func receiveBatch(t *testing.T, f *fixture, qty int64) inbound.InboundBatch {
	t.Helper()
	contractSvc := contracts.NewService(f.store.Contracts(), contracts.Config{}, nil, nil)
	inboundSvc := inbound.NewService(f.store.Inbound(), f.ledger, contractSvc, nil, nil, nil)
	c, err := contractSvc.CreateContract(operator(), contracts.CreateInput{
		Counterparty: "Mill Co",
		Items:        []contracts.ItemInput{{VariantID: f.variant.ID, UnitPrice: decimal.NewFromInt(3), Qty: qty}},
	})
	require.NoError(t, err)
	do, err := inboundSvc.CreateDeliveryOrder(operator(), inbound.CreateDeliveryOrderInput{ContractID: c.ID, Qty: qty})
	require.NoError(t, err)
	res, err := inboundSvc.RegisterInboundBatch(operator(), inbound.RegisterBatchInput{
		PendingInboundID: do.PendingInbound.ID, WarehouseID: f.source.ID, Qty: qty,
	})
	require.NoError(t, err)
	return res.Batch
}

func TestOutboundFromInboundBatchCapsCumulativeExport(t *testing.T) {
	f := newFixture(t, outbound.Dependencies{})
	ib := receiveBatch(t, f, 50)

	first, err := f.svc.CreateOutboundFromInboundBatch(operator(), outbound.FromInboundInput{
		InboundBatchID: ib.ID, DestinationWarehouseID: f.dest.ID, Qty: 30,
	})
	require.NoError(t, err)
	require.Equal(t, ib.ID, first.Order.SourceInboundBatchID)
	require.Equal(t, f.source.ID, first.Order.SourceWarehouseID)
	require.Equal(t, outbound.OrderShipped, first.Order.Status)
	require.Equal(t, int64(20), f.store.StockOf(f.variant.ID, f.source.ID).Quantity)

	_, err = f.svc.CreateOutboundFromInboundBatch(operator(), outbound.FromInboundInput{
		InboundBatchID: ib.ID, DestinationWarehouseID: f.dest.ID, Qty: 21,
	})
	require.ErrorIs(t, err, outbound.ErrOverExport)

	_, err = f.svc.CreateOutboundFromInboundBatch(operator(), outbound.FromInboundInput{
		InboundBatchID: ib.ID, DestinationWarehouseID: f.source.ID, Qty: 1,
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	// a cancelled export no longer counts against the batch
	_, err = f.svc.CancelBatch(manager(), first.Batch.ID, "wrong vessel")
	require.NoError(t, err)
	_, err = f.svc.CreateOutboundFromInboundBatch(operator(), outbound.FromInboundInput{
		InboundBatchID: ib.ID, DestinationWarehouseID: f.dest.ID, Qty: 50,
	})
	require.NoError(t, err)
	require.Zero(t, f.store.StockOf(f.variant.ID, f.source.ID).Quantity)
}

func TestUpdateBatchLogisticsMovesForwardOnly(t *testing.T) {
	f := newFixture(t, outbound.Dependencies{})
	f.stock(t, 10)
	o := f.order(t, 10)
	res, err := f.svc.CreateOutboundBatch(operator(), outbound.CreateBatchInput{OrderID: o.ID, Qty: 10})
	require.NoError(t, err)
	id := res.Batch.ID

	status := func(s string) *string { return &s }
	vessel := "MV Aurora"

	b, err := f.svc.UpdateBatchLogistics(operator(), id, outbound.LogisticsUpdate{Vessel: &vessel, Status: status("in-transit")})
	require.NoError(t, err)
	require.Equal(t, outbound.BatchInTransit, b.Status)
	require.Equal(t, "MV Aurora", b.Logistics.Vessel)
	require.Equal(t, "in-transit", b.Logistics.LastEvent)
	require.NotNil(t, b.Logistics.LastEventAt)

	_, err = f.svc.UpdateBatchLogistics(operator(), id, outbound.LogisticsUpdate{Status: status("shipped")})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = f.svc.UpdateBatchLogistics(operator(), id, outbound.LogisticsUpdate{Status: status("cancelled")})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.UpdateBatchLogistics(operator(), id, outbound.LogisticsUpdate{Status: status("lost")})
	require.ErrorIs(t, err, shared.ErrValidation)

	event := "customs hold"
	b, err = f.svc.UpdateBatchLogistics(operator(), id, outbound.LogisticsUpdate{Status: status("cleared"), LastEvent: &event})
	require.NoError(t, err)
	require.Equal(t, outbound.BatchCleared, b.Status)
	require.Equal(t, "customs hold", b.Logistics.LastEvent)
	require.Equal(t, "MV Aurora", b.Logistics.Vessel)

	_, err = f.svc.CancelBatch(manager(), id, "")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestCancelBatchRestoresStock(t *testing.T) {
	f := newFixture(t, outbound.Dependencies{})
	f.stock(t, 20)
	o := f.order(t, 20)
	res, err := f.svc.CreateOutboundBatch(operator(), outbound.CreateBatchInput{OrderID: o.ID, Qty: 8})
	require.NoError(t, err)

	_, err = f.svc.CancelBatch(operator(), res.Batch.ID, "")
	require.ErrorIs(t, err, shared.ErrForbidden)

	cancelled, err := f.svc.CancelBatch(manager(), res.Batch.ID, "damaged pallet")
	require.NoError(t, err)
	require.Equal(t, outbound.BatchCancelled, cancelled.Batch.Status)
	require.Equal(t, outbound.OrderPending, cancelled.Order.Status)
	require.Zero(t, cancelled.Order.ShippedQty)
	require.Equal(t, ledger.ReasonAdjustment, cancelled.Posting.Movement.Reason)
	require.Equal(t, int64(20), f.store.StockOf(f.variant.ID, f.source.ID).Quantity)

	_, err = f.svc.UpdateBatchLogistics(operator(), res.Batch.ID, outbound.LogisticsUpdate{})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	order, err := f.svc.CancelOrder(manager(), o.ID)
	require.NoError(t, err)
	require.Equal(t, outbound.OrderCancelled, order.Status)
}

type failingCache struct{ outbound.ListingCache }

func (failingCache) InvalidatePrefix(context.Context, string) (int, error) {
	return 0, errors.New("redis down")
}

type recordingQueue struct{ prefixes []string }

func (q *recordingQueue) EnqueueCacheInvalidation(_ context.Context, prefix string) error {
	q.prefixes = append(q.prefixes, prefix)
	return nil
}

type sideEffects struct{ kinds []string }

func (m *sideEffects) SideEffectFailed(kind string) { m.kinds = append(m.kinds, kind) }

func TestListOrdersIsCachedAndInvalidated(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f := newFixture(t, outbound.Dependencies{Cache: cache.NewJSONCache(client, time.Minute)})

	f.order(t, 5)
	list, err := f.svc.ListOrders(operator(), outbound.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotEmpty(t, srv.Keys())

	f.order(t, 6)
	list, err = f.svc.ListOrders(operator(), outbound.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)

	n, err := f.svc.InvalidateListings(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestFailedInvalidationIsQueued(t *testing.T) {
	queue := &recordingQueue{}
	metrics := &sideEffects{}
	f := newFixture(t, outbound.Dependencies{Cache: failingCache{}, Queue: queue, Metrics: metrics})

	f.order(t, 5)
	require.Equal(t, []string{outbound.OrdersCachePrefix}, queue.prefixes)
	require.Equal(t, []string{"cache"}, metrics.kinds)
}
