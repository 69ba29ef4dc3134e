package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/goodsflow/internal/ledger"
	"github.com/odyssey-erp/goodsflow/internal/shared"
	"github.com/odyssey-erp/goodsflow/internal/testing/memstore"
	"github.com/odyssey-erp/goodsflow/internal/warehouses"
)

type recordingMetrics struct {
	committed    int
	insufficient int
}

func (m *recordingMetrics) MovementCommitted(string, int64) { m.committed++ }
func (m *recordingMetrics) InsufficientStock() { m.insufficient++ }
func (m *recordingMetrics) SideEffectFailed(string) {}

func managerCtx() context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{ID: 7, Role: shared.RoleManager})
}

func newLedger(store *memstore.Store) *ledger.Service {
	return ledger.NewService(store.Ledger(), ledger.Dependencies{Warehouses: store, Variants: store})
}

func credit(t *testing.T, store *memstore.Store, svc *ledger.Service, variantID, warehouseID, qty int64) ledger.Posting {
	t.Helper()
	var posting ledger.Posting
	err := store.Ledger().WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		var err error
		posting, err = svc.Credit(ctx, tx, ledger.PostingInput{
			VariantID: variantID, WarehouseID: warehouseID, Qty: qty,
			Reason: ledger.ReasonPurchaseInbound, Ref: ledger.RelatedOrder{Type: ledger.RefInboundBatch, ID: 1},
		})
		return err
	})
	require.NoError(t, err)
	return posting
}

func TestCreditCreatesRowAndDebitReducesIt(t *testing.T) {
	store := memstore.New()
	wh := store.AddWarehouse("WH-A", warehouses.TypeDomestic, true)
	v := store.AddVariant("SKU-1")
	svc := newLedger(store)

	posting := credit(t, store, svc, v.ID, wh.ID, 100)
	require.Equal(t, int64(100), posting.Stock.Quantity)
	require.Equal(t, int64(100), posting.Stock.Available)
	require.Equal(t, int64(1), posting.Stock.Version)
	require.Equal(t, int64(1), posting.Movement.Sequence)
	require.Equal(t, int64(0), posting.Movement.QtyBefore)
	require.Equal(t, int64(100), posting.Movement.QtyAfter)

	err := store.Ledger().WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		_, err := svc.Debit(ctx, tx, ledger.PostingInput{
			VariantID: v.ID, WarehouseID: wh.ID, Qty: 40, Reason: ledger.ReasonSaleOutbound,
			Ref: ledger.RelatedOrder{Type: ledger.RefOutboundBatch, ID: 9},
		})
		return err
	})
	require.NoError(t, err)

	st := store.StockOf(v.ID, wh.ID)
	require.Equal(t, int64(60), st.Quantity)
	require.Equal(t, int64(2), st.Version)

	movements := store.MovementsOf(v.ID, wh.ID)
	require.Len(t, movements, 2)
	require.Equal(t, int64(-40), movements[1].Delta)
	require.Equal(t, movements[0].QtyAfter, movements[1].QtyBefore)
}

func TestDebitBeyondAvailableLeavesStateUntouched(t *testing.T) {
	store := memstore.New()
	wh := store.AddWarehouse("WH-A", warehouses.TypeDomestic, true)
	v := store.AddVariant("SKU-1")
	metrics := &recordingMetrics{}
	svc := ledger.NewService(store.Ledger(), ledger.Dependencies{Metrics: metrics})
	credit(t, store, svc, v.ID, wh.ID, 10)

	err := store.Ledger().WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		_, err := svc.Debit(ctx, tx, ledger.PostingInput{
			VariantID: v.ID, WarehouseID: wh.ID, Qty: 11, Reason: ledger.ReasonSaleOutbound,
		})
		return err
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, 1, metrics.insufficient)
	require.Equal(t, int64(10), store.StockOf(v.ID, wh.ID).Quantity)
	require.Len(t, store.MovementsOf(v.ID, wh.ID), 1)
}

func TestPostingRejectsBadInput(t *testing.T) {
	store := memstore.New()
	svc := newLedger(store)
	err := store.Ledger().WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		_, err := svc.Credit(ctx, tx, ledger.PostingInput{VariantID: 1, WarehouseID: 1, Qty: 0, Reason: ledger.ReasonAdjustment})
		return err
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	err = store.Ledger().WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		_, err := svc.Credit(ctx, tx, ledger.PostingInput{VariantID: 1, WarehouseID: 1, Qty: 5, Reason: "gift"})
		return err
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestConcurrentAdjustmentsNeverOversell(t *testing.T) {
	store := memstore.New()
	wh := store.AddWarehouse("WH-A", warehouses.TypeDomestic, true)
	v := store.AddVariant("SKU-1")
	svc := newLedger(store)
	credit(t, store, svc, v.ID, wh.ID, 100)

	ctx := managerCtx()
	results := make([]error, 25)
	var g errgroup.Group
	for i := range results {
		g.Go(func() error {
			_, results[i] = svc.Adjust(ctx, ledger.AdjustmentInput{VariantID: v.ID, WarehouseID: wh.ID, Delta: -10, Note: "cycle count"})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var ok, short int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, shared.ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 10, ok)
	require.Equal(t, 15, short)
	require.Equal(t, int64(0), store.StockOf(v.ID, wh.ID).Quantity)

	rec, err := svc.Verify(ctx, v.ID, wh.ID)
	require.NoError(t, err)
	require.True(t, rec.OK(), "breaks: %+v", rec.Breaks)
	require.Equal(t, 11, rec.Entries)
}

func TestAdjustRequiresElevatedRole(t *testing.T) {
	store := memstore.New()
	wh := store.AddWarehouse("WH-A", warehouses.TypeDomestic, true)
	v := store.AddVariant("SKU-1")
	svc := newLedger(store)

	operator := shared.ContextWithActor(context.Background(), shared.Actor{ID: 3, Role: shared.RoleOperator})
	_, err := svc.Adjust(operator, ledger.AdjustmentInput{VariantID: v.ID, WarehouseID: wh.ID, Delta: 5, Note: "found"})
	require.ErrorIs(t, err, shared.ErrForbidden)

	posting, err := svc.Adjust(managerCtx(), ledger.AdjustmentInput{VariantID: v.ID, WarehouseID: wh.ID, Delta: 5, Note: "found"})
	require.NoError(t, err)
	require.Equal(t, ledger.ReasonAdjustment, posting.Movement.Reason)
	require.Equal(t, int64(5), posting.Stock.Quantity)
}

func TestTransferMovesBothLegsAtomically(t *testing.T) {
	store := memstore.New()
	a := store.AddWarehouse("WH-A", warehouses.TypeDomestic, true)
	b := store.AddWarehouse("WH-B", warehouses.TypeOverseas, true)
	v := store.AddVariant("SKU-1")
	svc := newLedger(store)
	credit(t, store, svc, v.ID, a.ID, 30)
	ctx := managerCtx()

	res, err := svc.Transfer(ctx, ledger.TransferInput{VariantID: v.ID, FromWarehouseID: a.ID, ToWarehouseID: b.ID, Qty: 12})
	require.NoError(t, err)
	require.Equal(t, ledger.ReasonTransferOutbound, res.Out.Movement.Reason)
	require.Equal(t, ledger.ReasonTransferInbound, res.In.Movement.Reason)
	require.Equal(t, int64(18), store.StockOf(v.ID, a.ID).Quantity)
	require.Equal(t, int64(12), store.StockOf(v.ID, b.ID).Quantity)

	store.FailOn("AppendMovement", errors.New("disk full"))
	_, err = svc.Transfer(ctx, ledger.TransferInput{VariantID: v.ID, FromWarehouseID: a.ID, ToWarehouseID: b.ID, Qty: 5})
	require.Error(t, err)
	require.Equal(t, int64(18), store.StockOf(v.ID, a.ID).Quantity)
	require.Equal(t, int64(12), store.StockOf(v.ID, b.ID).Quantity)

	_, err = svc.Transfer(ctx, ledger.TransferInput{VariantID: v.ID, FromWarehouseID: a.ID, ToWarehouseID: a.ID, Qty: 1})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestTransferIntoInactiveWarehouseIsRejected(t *testing.T) {
	store := memstore.New()
	a := store.AddWarehouse("WH-A", warehouses.TypeDomestic, true)
	closed := store.AddWarehouse("WH-X", warehouses.TypeDomestic, false)
	v := store.AddVariant("SKU-1")
	svc := newLedger(store)
	credit(t, store, svc, v.ID, a.ID, 5)

	_, err := svc.Transfer(managerCtx(), ledger.TransferInput{VariantID: v.ID, FromWarehouseID: a.ID, ToWarehouseID: closed.ID, Qty: 1})
	require.ErrorIs(t, err, warehouses.ErrInactive)
	require.Equal(t, int64(5), store.StockOf(v.ID, a.ID).Quantity)
}

func TestReconcileReportsEveryPair(t *testing.T) {
	store := memstore.New()
	a := store.AddWarehouse("WH-A", warehouses.TypeDomestic, true)
	b := store.AddWarehouse("WH-B", warehouses.TypeDomestic, true)
	v1 := store.AddVariant("SKU-1")
	v2 := store.AddVariant("SKU-2")
	svc := newLedger(store)
	credit(t, store, svc, v1.ID, a.ID, 5)
	credit(t, store, svc, v1.ID, b.ID, 6)
	credit(t, store, svc, v2.ID, a.ID, 7)

	report, err := svc.Reconcile(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 3, report.Checked)
	require.Empty(t, report.Mismatches)
}
