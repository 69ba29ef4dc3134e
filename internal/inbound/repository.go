package inbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/goodsflow/internal/catalog"
	"github.com/odyssey-erp/goodsflow/internal/contracts"
	"github.com/odyssey-erp/goodsflow/internal/ledger"
	"github.com/odyssey-erp/goodsflow/internal/platform/db"
	"github.com/odyssey-erp/goodsflow/internal/shared"
	"github.com/odyssey-erp/goodsflow/internal/warehouses"
)

// Repository persists delivery orders, pending inbounds and inbound batches.
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
		return errors.New("inbound repository not initialised")
	}
	return r.runner.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds inbound statements to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *txRepository) Ledger() ledger.TxRepository       { return ledger.NewTxRepository(r.tx) }
func (r *txRepository) Contracts() contracts.TxRepository { return contracts.NewTxRepository(r.tx) }
func (r *txRepository) Warehouses() warehouses.Reader     { return warehouses.NewRepository(r.tx) }
func (r *txRepository) Catalog() catalog.Reader           { return catalog.NewRepository(r.tx) }

func (r *txRepository) ClaimIdempotencyKey(ctx context.Context, key, module string) error {
	return shared.ClaimIdempotencyKey(ctx, r.tx, key, module)
}

const deliveryOrderColumns = `id, number, contract_id, contract_item_id, qty, status, expected_at, note, COALESCE(created_by, 0), created_at, updated_at`

func scanDeliveryOrder(row pgx.Row) (DeliveryOrder, error) {
	var do DeliveryOrder
	var status string
	err := row.Scan(&do.ID, &do.Number, &do.ContractID, &do.ContractItemID, &do.Qty, &status, &do.ExpectedAt, &do.Note, &do.CreatedBy, &do.CreatedAt, &do.UpdatedAt)
	do.Status = DeliveryStatus(status)
	return do, err
}

const pendingColumns = `id, delivery_order_id, COALESCE(variant_id, 0), sku, qty, received_qty, status, created_at, updated_at`

func scanPending(row pgx.Row) (PendingInbound, error) {
	var pi PendingInbound
	var status string
	err := row.Scan(&pi.ID, &pi.DeliveryOrderID, &pi.VariantID, &pi.SKU, &pi.Qty, &pi.ReceivedQty, &status, &pi.CreatedAt, &pi.UpdatedAt)
	pi.Status = PendingStatus(status)
	return pi, err
}

const batchColumns = `id, number, pending_inbound_id, warehouse_id, variant_id, qty, received_at, note, COALESCE(created_by, 0), created_at`

func scanBatch(row pgx.Row) (InboundBatch, error) {
	var b InboundBatch
	err := row.Scan(&b.ID, &b.Number, &b.PendingInboundID, &b.WarehouseID, &b.VariantID, &b.Qty, &b.ReceivedAt, &b.Note, &b.CreatedBy, &b.CreatedAt)
	return b, err
}

func (r *txRepository) InsertDeliveryOrder(ctx context.Context, do DeliveryOrder) (DeliveryOrder, error) {
	created, err := scanDeliveryOrder(r.tx.QueryRow(ctx, `INSERT INTO delivery_orders (number, contract_id, contract_item_id, qty, status, expected_at, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW()) RETURNING `+deliveryOrderColumns,
		do.Number, do.ContractID, do.ContractItemID, do.Qty, string(do.Status), do.ExpectedAt, do.Note, nullInt(do.CreatedBy)))
	if db.IsUniqueViolation(err) {
		return DeliveryOrder{}, fmt.Errorf("%w (%s)", ErrDuplicateNumber, do.Number)
	}
	return created, err
}

func (r *txRepository) GetDeliveryOrderForUpdate(ctx context.Context, id int64) (DeliveryOrder, error) {
	do, err := scanDeliveryOrder(r.tx.QueryRow(ctx, `SELECT `+deliveryOrderColumns+` FROM delivery_orders WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return DeliveryOrder{}, fmt.Errorf("%w (id %d)", ErrDeliveryOrderNotFound, id)
	}
	return do, err
}

func (r *txRepository) SetDeliveryOrderStatus(ctx context.Context, id int64, status DeliveryStatus) error {
	_, err := r.tx.Exec(ctx, `UPDATE delivery_orders SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	return err
}

func (r *txRepository) InsertPendingInbound(ctx context.Context, pi PendingInbound) (PendingInbound, error) {
	return scanPending(r.tx.QueryRow(ctx, `INSERT INTO pending_inbounds (delivery_order_id, variant_id, sku, qty, received_qty, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW()) RETURNING `+pendingColumns,
		pi.DeliveryOrderID, nullInt(pi.VariantID), pi.SKU, pi.Qty, pi.ReceivedQty, string(pi.Status)))
}

func (r *txRepository) GetPendingInboundForUpdate(ctx context.Context, id int64) (PendingInbound, error) {
	pi, err := scanPending(r.tx.QueryRow(ctx, `SELECT `+pendingColumns+` FROM pending_inbounds WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return PendingInbound{}, fmt.Errorf("%w (id %d)", ErrPendingInboundNotFound, id)
	}
	return pi, err
}

func (r *txRepository) PendingInboundForDeliveryOrder(ctx context.Context, deliveryOrderID int64) (PendingInbound, error) {
	pi, err := scanPending(r.tx.QueryRow(ctx, `SELECT `+pendingColumns+` FROM pending_inbounds WHERE delivery_order_id=$1 FOR UPDATE`, deliveryOrderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return PendingInbound{}, fmt.Errorf("%w (delivery order %d)", ErrPendingInboundNotFound, deliveryOrderID)
	}
	return pi, err
}

func (r *txRepository) UpdatePendingInbound(ctx context.Context, pi PendingInbound) error {
	_, err := r.tx.Exec(ctx, `UPDATE pending_inbounds SET variant_id=$2, sku=$3, received_qty=$4, status=$5, updated_at=NOW() WHERE id=$1`,
		pi.ID, nullInt(pi.VariantID), pi.SKU, pi.ReceivedQty, string(pi.Status))
	return err
}

func (r *txRepository) InsertInboundBatch(ctx context.Context, b InboundBatch) (InboundBatch, error) {
	return scanBatch(r.tx.QueryRow(ctx, `INSERT INTO inbound_batches (number, pending_inbound_id, warehouse_id, variant_id, qty, received_at, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING `+batchColumns,
		b.Number, b.PendingInboundID, b.WarehouseID, b.VariantID, b.Qty, b.ReceivedAt, b.Note, nullInt(b.CreatedBy)))
}

func (r *txRepository) GetInboundBatchForUpdate(ctx context.Context, id int64) (InboundBatch, error) {
	b, err := scanBatch(r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM inbound_batches WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return InboundBatch{}, fmt.Errorf("%w (id %d)", ErrBatchNotFound, id)
	}
	return b, err
}

// GetDeliveryOrder loads a delivery order.
func (r *Repository) GetDeliveryOrder(ctx context.Context, id int64) (DeliveryOrder, error) {
	do, err := scanDeliveryOrder(r.runner.Pool().QueryRow(ctx, `SELECT `+deliveryOrderColumns+` FROM delivery_orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return DeliveryOrder{}, fmt.Errorf("%w (id %d)", ErrDeliveryOrderNotFound, id)
	}
	return do, err
}

// ListDeliveryOrders returns delivery orders newest first.
func (r *Repository) ListDeliveryOrders(ctx context.Context, filter DeliveryOrderFilter) ([]DeliveryOrder, error) {
	rows, err := r.runner.Pool().Query(ctx, `SELECT `+deliveryOrderColumns+` FROM delivery_orders
WHERE ($1 = 0 OR contract_id = $1) AND ($2 = '' OR status = $2)
ORDER BY id DESC
LIMIT $3 OFFSET $4`, filter.ContractID, string(filter.Status), filter.Page.Limit, filter.Page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []DeliveryOrder{}
	for rows.Next() {
		do, err := scanDeliveryOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, do)
	}
	return out, rows.Err()
}

// GetPendingInbound loads a pending inbound.
func (r *Repository) GetPendingInbound(ctx context.Context, id int64) (PendingInbound, error) {
	pi, err := scanPending(r.runner.Pool().QueryRow(ctx, `SELECT `+pendingColumns+` FROM pending_inbounds WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return PendingInbound{}, fmt.Errorf("%w (id %d)", ErrPendingInboundNotFound, id)
	}
	return pi, err
}

// GetPendingInboundByDeliveryOrder loads the pending inbound of a delivery order.
func (r *Repository) GetPendingInboundByDeliveryOrder(ctx context.Context, deliveryOrderID int64) (PendingInbound, error) {
	pi, err := scanPending(r.runner.Pool().QueryRow(ctx, `SELECT `+pendingColumns+` FROM pending_inbounds WHERE delivery_order_id=$1`, deliveryOrderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return PendingInbound{}, fmt.Errorf("%w (delivery order %d)", ErrPendingInboundNotFound, deliveryOrderID)
	}
	return pi, err
}

// GetInboundBatch loads an inbound batch.
func (r *Repository) GetInboundBatch(ctx context.Context, id int64) (InboundBatch, error) {
	b, err := scanBatch(r.runner.Pool().QueryRow(ctx, `SELECT `+batchColumns+` FROM inbound_batches WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return InboundBatch{}, fmt.Errorf("%w (id %d)", ErrBatchNotFound, id)
	}
	return b, err
}

// ListInboundBatches returns batches newest first.
func (r *Repository) ListInboundBatches(ctx context.Context, filter BatchFilter) ([]InboundBatch, error) {
	rows, err := r.runner.Pool().Query(ctx, `SELECT `+batchColumns+` FROM inbound_batches
WHERE ($1 = 0 OR pending_inbound_id = $1) AND ($2 = 0 OR warehouse_id = $2)
ORDER BY id DESC
LIMIT $3 OFFSET $4`, filter.PendingInboundID, filter.WarehouseID, filter.Page.Limit, filter.Page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []InboundBatch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
