package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/goodsflow/internal/ledger"
	"github.com/odyssey-erp/goodsflow/internal/outbound"
	"github.com/odyssey-erp/goodsflow/internal/platform/db"
	"github.com/odyssey-erp/goodsflow/internal/warehouses"
)

// Repository runs arrival transactions in PostgreSQL.
type Repository struct {
	runner *db.TxRunner
}

// NewRepository constructs Repository.
func NewRepository(runner *db.TxRunner) *Repository {
	return &Repository{runner: runner}
}

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.runner == nil {
		return errors.New("transfer repository not initialised")
	}
	return r.runner.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) ClaimArrival(ctx context.Context, batchID int64, at time.Time) (bool, error) {
	return db.ClaimOnce(ctx, r.tx, "outbound_batches", "arrival_confirmed_at", batchID, at)
}

func (r *txRepository) Outbound() outbound.TxRepository { return outbound.NewTxRepository(r.tx) }
func (r *txRepository) Ledger() ledger.TxRepository     { return ledger.NewTxRepository(r.tx) }
func (r *txRepository) Warehouses() warehouses.Reader   { return warehouses.NewRepository(r.tx) }
