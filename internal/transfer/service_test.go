package transfer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/goodsflow/internal/ledger"
	"github.com/odyssey-erp/goodsflow/internal/outbound"
	"github.com/odyssey-erp/goodsflow/internal/shared"
	"github.com/odyssey-erp/goodsflow/internal/testing/memstore"
	"github.com/odyssey-erp/goodsflow/internal/transfer"
	"github.com/odyssey-erp/goodsflow/internal/warehouses"
)

type arrivalMetrics struct {
	mu      sync.Mutex
	results map[string]int
}

func (m *arrivalMetrics) ArrivalConfirmation(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[result]++
}

func (m *arrivalMetrics) SideEffectFailed(string) {}

type fixture struct {
	store   *memstore.Store
	svc     *transfer.Service
	metrics *arrivalMetrics
	batch   outbound.Batch
	source  warehouses.Warehouse
	dest    warehouses.Warehouse
	variant int64
}

func operator() context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{ID: 4, Role: shared.RoleOperator})
}

// newFixture ships 25 units from WH-SRC towards WH-DST.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	src := store.AddWarehouse("WH-SRC", warehouses.TypeFactory, true)
	dst := store.AddWarehouse("WH-DST", warehouses.TypeOverseas, true)
	v := store.AddVariant("SKU-GREEN")
	ledgerSvc := ledger.NewService(store.Ledger(), ledger.Dependencies{Warehouses: store, Variants: store})
	outboundSvc := outbound.NewService(store.Outbound(), outbound.Dependencies{Ledger: ledgerSvc})

	manager := shared.ContextWithActor(context.Background(), shared.Actor{ID: 1, Role: shared.RoleManager})
	_, err := ledgerSvc.Adjust(manager, ledger.AdjustmentInput{VariantID: v.ID, WarehouseID: src.ID, Delta: 40, Note: "opening balance"})
	require.NoError(t, err)
	o, err := outboundSvc.CreateOutboundOrder(operator(), outbound.CreateOrderInput{
		VariantID: v.ID, Qty: 25, SourceWarehouseID: src.ID, DestinationWarehouseID: dst.ID,
	})
	require.NoError(t, err)
	res, err := outboundSvc.CreateOutboundBatch(operator(), outbound.CreateBatchInput{OrderID: o.ID, Qty: 25})
	require.NoError(t, err)

	metrics := &arrivalMetrics{results: map[string]int{}}
	return &fixture{
		store:   store,
		svc:     transfer.NewService(store.Transfer(), ledgerSvc, nil, metrics, store, nil),
		metrics: metrics,
		batch:   res.Batch,
		source:  src,
		dest:    dst,
		variant: v.ID,
	}
}

func TestConfirmArrivalCreditsDestinationOnce(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.ConfirmArrival(operator(), transfer.ConfirmInput{BatchID: f.batch.ID})
	require.NoError(t, err)
	require.Equal(t, outbound.BatchArrived, res.Batch.Status)
	require.Equal(t, f.dest.ID, res.Batch.ArrivalWarehouseID)
	require.NotNil(t, res.Batch.ArrivalConfirmedAt)
	require.NotNil(t, res.Batch.ActualArrivalAt)
	require.Equal(t, ledger.ReasonTransferInbound, res.Posting.Movement.Reason)
	require.Equal(t, int64(25), f.store.StockOf(f.variant, f.dest.ID).Quantity)
	require.Equal(t, int64(15), f.store.StockOf(f.variant, f.source.ID).Quantity)

	_, err = f.svc.ConfirmArrival(operator(), transfer.ConfirmInput{BatchID: f.batch.ID})
	require.ErrorIs(t, err, transfer.ErrAlreadyConfirmed)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Equal(t, int64(25), f.store.StockOf(f.variant, f.dest.ID).Quantity)
	require.Len(t, f.store.MovementsOf(f.variant, f.dest.ID), 1)
	require.Equal(t, map[string]int{"confirmed": 1, "duplicate": 1}, f.metrics.results)

	logs := f.store.InventoryLogs()
	last := logs[len(logs)-1]
	require.Equal(t, ledger.LogTypeTransfer, last.Type)
	require.Equal(t, ledger.LogStatusArrived, last.Status)
}

func TestConcurrentConfirmationsCreditOnce(t *testing.T) {
	f := newFixture(t)

	var (
		g         errgroup.Group
		mu        sync.Mutex
		confirmed int
		duplicate int
	)
	for range 8 {
		g.Go(func() error {
			_, err := f.svc.ConfirmArrival(operator(), transfer.ConfirmInput{BatchID: f.batch.ID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				confirmed++
			case errors.Is(err, transfer.ErrAlreadyConfirmed):
				duplicate++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, 1, confirmed)
	require.Equal(t, 7, duplicate)
	require.Equal(t, int64(25), f.store.StockOf(f.variant, f.dest.ID).Quantity)
}

func TestConfirmArrivalExplicitDestinationAndTime(t *testing.T) {
	f := newFixture(t)
	other := f.store.AddWarehouse("WH-ALT", warehouses.TypeTransit, true)
	arrived := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	res, err := f.svc.ConfirmArrival(operator(), transfer.ConfirmInput{
		BatchID: f.batch.ID, DestinationWarehouseID: other.ID, ActualArrivalAt: &arrived,
	})
	require.NoError(t, err)
	require.Equal(t, other.ID, res.Batch.ArrivalWarehouseID)
	require.True(t, arrived.Equal(*res.Batch.ActualArrivalAt))
	require.Equal(t, int64(25), f.store.StockOf(f.variant, other.ID).Quantity)
	require.Zero(t, f.store.StockOf(f.variant, f.dest.ID).Quantity)
}

func TestConfirmArrivalRejectsBadDestination(t *testing.T) {
	f := newFixture(t)
	closed := f.store.AddWarehouse("WH-OFF", warehouses.TypeDomestic, false)

	_, err := f.svc.ConfirmArrival(operator(), transfer.ConfirmInput{BatchID: f.batch.ID, DestinationWarehouseID: f.source.ID})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.ConfirmArrival(operator(), transfer.ConfirmInput{BatchID: f.batch.ID, DestinationWarehouseID: closed.ID})
	require.ErrorIs(t, err, warehouses.ErrInactive)

	_, err = f.svc.ConfirmArrival(operator(), transfer.ConfirmInput{BatchID: 9999})
	require.ErrorIs(t, err, shared.ErrNotFound)

	viewer := shared.ContextWithActor(context.Background(), shared.Actor{Role: shared.RoleViewer})
	_, err = f.svc.ConfirmArrival(viewer, transfer.ConfirmInput{BatchID: f.batch.ID})
	require.ErrorIs(t, err, shared.ErrForbidden)

	require.Zero(t, f.store.StockOf(f.variant, f.dest.ID).Quantity)
}

func TestConfirmArrivalRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	f.store.FailOn("AppendInventoryLog", errors.New("connection reset"))

	_, err := f.svc.ConfirmArrival(operator(), transfer.ConfirmInput{BatchID: f.batch.ID})
	require.Error(t, err)
	require.Zero(t, f.store.StockOf(f.variant, f.dest.ID).Quantity)

	res, err := f.svc.ConfirmArrival(operator(), transfer.ConfirmInput{BatchID: f.batch.ID})
	require.NoError(t, err)
	require.Equal(t, int64(25), res.Posting.Stock.Quantity)
}
