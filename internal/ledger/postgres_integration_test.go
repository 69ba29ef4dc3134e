package ledger_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/goodsflow/internal/ledger"
	"github.com/odyssey-erp/goodsflow/internal/platform/db"
	"github.com/odyssey-erp/goodsflow/internal/shared"
)

const testDSNEnv = "GOODSFLOW_TEST_PG_DSN"

func postgresLedger(t *testing.T) (*pgxpool.Pool, *ledger.Service) {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires postgres)")
	}
	dsn := strings.TrimSpace(os.Getenv(testDSNEnv))
	if dsn == "" {
		t.Skipf("set %s to a disposable postgres database", testDSNEnv)
	}

	migrator, err := db.NewMigrator(dsn)
	require.NoError(t, err)
	require.NoError(t, migrator.Up())

	pool, err := db.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := ledger.NewRepository(db.NewTxRunner(pool, 0))
	return pool, ledger.NewService(repo, ledger.Dependencies{})
}

func seedPair(t *testing.T, pool *pgxpool.Pool) (variantID, warehouseID int64) {
	t.Helper()
	ctx := context.Background()
	suffix := uuid.NewString()
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO warehouses (code, name, type) VALUES ($1, $1, 'domestic') RETURNING id`, "IT-"+suffix).Scan(&warehouseID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO product_variants (sku, product_id) VALUES ($1, 1) RETURNING id`, "IT-"+suffix).Scan(&variantID))
	return variantID, warehouseID
}

func TestPostgresHotRowDebitsSerialize(t *testing.T) {
	pool, svc := postgresLedger(t)
	variantID, warehouseID := seedPair(t, pool)
	ctx := managerCtx()

	_, err := svc.Adjust(ctx, ledger.AdjustmentInput{VariantID: variantID, WarehouseID: warehouseID, Delta: 100, Note: "opening"})
	require.NoError(t, err)

	results := make([]error, 25)
	var g errgroup.Group
	for i := range results {
		g.Go(func() error {
			_, results[i] = svc.Adjust(ctx, ledger.AdjustmentInput{VariantID: variantID, WarehouseID: warehouseID, Delta: -10, Note: "pick"})
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

	rec, err := svc.Verify(ctx, variantID, warehouseID)
	require.NoError(t, err)
	require.True(t, rec.OK(), "breaks: %+v", rec.Breaks)
	require.Equal(t, int64(0), rec.Quantity)
	require.Equal(t, 11, rec.Entries)
}

func TestPostgresConcurrentFirstCredits(t *testing.T) {
	pool, svc := postgresLedger(t)
	variantID, warehouseID := seedPair(t, pool)
	ctx := managerCtx()

	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			_, err := svc.Adjust(ctx, ledger.AdjustmentInput{VariantID: variantID, WarehouseID: warehouseID, Delta: 3, Note: "found"})
			return err
		})
	}
	require.NoError(t, g.Wait())

	st, err := svc.GetStock(ctx, variantID, warehouseID)
	require.NoError(t, err)
	require.Equal(t, int64(24), st.Quantity)
	require.Equal(t, int64(8), st.Version)
}
