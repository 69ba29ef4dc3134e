package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/goodsflow/internal/ledger"
	"github.com/odyssey-erp/goodsflow/internal/testing/memstore"
	"github.com/odyssey-erp/goodsflow/internal/warehouses"
)

// busyLedger commits a write around every read, the way a concurrent
// request would land between statements of a non-transactional reader.
type busyLedger struct {
	*memstore.LedgerRepo
	write     func()
	snapshots map[ledger.PairKey]int
	afterPage func(page int)
	pages     int
}

func (b *busyLedger) GetStock(ctx context.Context, variantID, warehouseID int64) (ledger.Stock, error) {
	b.write()
	return b.LedgerRepo.GetStock(ctx, variantID, warehouseID)
}

func (b *busyLedger) ListMovements(ctx context.Context, filter ledger.MovementFilter) ([]ledger.Movement, error) {
	b.write()
	return b.LedgerRepo.ListMovements(ctx, filter)
}

func (b *busyLedger) PairSnapshot(ctx context.Context, variantID, warehouseID int64) (ledger.Stock, []ledger.Movement, error) {
	b.write()
	st, movements, err := b.LedgerRepo.PairSnapshot(ctx, variantID, warehouseID)
	b.snapshots[ledger.PairKey{VariantID: variantID, WarehouseID: warehouseID}]++
	b.write()
	return st, movements, err
}

func (b *busyLedger) StockPageAfter(ctx context.Context, after ledger.PairKey, limit int) ([]ledger.Stock, error) {
	rows, err := b.LedgerRepo.StockPageAfter(ctx, after, limit)
	b.pages++
	if b.afterPage != nil {
		b.afterPage(b.pages)
	}
	return rows, err
}

func TestVerifyIgnoresWritesAroundItsRead(t *testing.T) {
	store := memstore.New()
	wh := store.AddWarehouse("WH-A", warehouses.TypeDomestic, true)
	v := store.AddVariant("SKU-1")
	writer := newLedger(store)
	credit(t, store, writer, v.ID, wh.ID, 10)

	repo := &busyLedger{LedgerRepo: store.Ledger(), snapshots: map[ledger.PairKey]int{}}
	repo.write = func() { credit(t, store, writer, v.ID, wh.ID, 1) }
	svc := ledger.NewService(repo, ledger.Dependencies{Warehouses: store, Variants: store})

	for range 5 {
		rec, err := svc.Verify(managerCtx(), v.ID, wh.ID)
		require.NoError(t, err)
		require.True(t, rec.OK(), "breaks: %+v", rec.Breaks)
		require.Equal(t, rec.Quantity, rec.Replayed)
	}
	require.Equal(t, int64(20), store.StockOf(v.ID, wh.ID).Quantity)
}

func TestReconcileWalksKeysetPages(t *testing.T) {
	store := memstore.New()
	a := store.AddWarehouse("WH-A", warehouses.TypeDomestic, true)
	b := store.AddWarehouse("WH-B", warehouses.TypeDomestic, true)
	v1 := store.AddVariant("SKU-1")
	v2 := store.AddVariant("SKU-2")
	v3 := store.AddVariant("SKU-3")
	writer := newLedger(store)
	credit(t, store, writer, v2.ID, b.ID, 4)
	credit(t, store, writer, v3.ID, a.ID, 5)
	credit(t, store, writer, v2.ID, a.ID, 6)

	repo := &busyLedger{LedgerRepo: store.Ledger(), snapshots: map[ledger.PairKey]int{}, write: func() {}}
	repo.afterPage = func(page int) {
		if page == 1 {
			// lands before the cursor; an offset walk would see v2/a twice
			credit(t, store, writer, v1.ID, a.ID, 7)
		}
	}
	svc := ledger.NewService(repo, ledger.Dependencies{Warehouses: store, Variants: store})

	report, err := svc.Reconcile(context.Background(), 1)
	require.NoError(t, err)
	require.Empty(t, report.Mismatches)
	require.Equal(t, 3, report.Checked)
	require.Equal(t, map[ledger.PairKey]int{
		{VariantID: v2.ID, WarehouseID: a.ID}: 1,
		{VariantID: v2.ID, WarehouseID: b.ID}: 1,
		{VariantID: v3.ID, WarehouseID: a.ID}: 1,
	}, repo.snapshots)
	require.Equal(t, 4, repo.pages)
}

func TestStockPageAfterOrdersByPair(t *testing.T) {
	store := memstore.New()
	a := store.AddWarehouse("WH-A", warehouses.TypeDomestic, true)
	b := store.AddWarehouse("WH-B", warehouses.TypeDomestic, true)
	v1 := store.AddVariant("SKU-1")
	v2 := store.AddVariant("SKU-2")
	writer := newLedger(store)
	credit(t, store, writer, v2.ID, a.ID, 1)
	credit(t, store, writer, v1.ID, b.ID, 1)
	credit(t, store, writer, v1.ID, a.ID, 1)

	repo := store.Ledger()
	first, err := repo.StockPageAfter(context.Background(), ledger.PairKey{}, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, ledger.PairKey{VariantID: v1.ID, WarehouseID: a.ID}, ledger.PairKey{VariantID: first[0].VariantID, WarehouseID: first[0].WarehouseID})
	require.Equal(t, ledger.PairKey{VariantID: v1.ID, WarehouseID: b.ID}, ledger.PairKey{VariantID: first[1].VariantID, WarehouseID: first[1].WarehouseID})

	rest, err := repo.StockPageAfter(context.Background(), ledger.PairKey{VariantID: v1.ID, WarehouseID: b.ID}, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, v2.ID, rest[0].VariantID)
}
