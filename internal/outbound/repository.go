package outbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/goodsflow/internal/catalog"
	"github.com/odyssey-erp/goodsflow/internal/inbound"
	"github.com/odyssey-erp/goodsflow/internal/ledger"
	"github.com/odyssey-erp/goodsflow/internal/platform/db"
	"github.com/odyssey-erp/goodsflow/internal/shared"
	"github.com/odyssey-erp/goodsflow/internal/warehouses"
)

// Repository persists outbound orders and batches.
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
		return errors.New("outbound repository not initialised")
	}
	return r.runner.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds outbound statements to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *txRepository) Ledger() ledger.TxRepository   { return ledger.NewTxRepository(r.tx) }
func (r *txRepository) Inbound() inbound.TxRepository { return inbound.NewTxRepository(r.tx) }
func (r *txRepository) Warehouses() warehouses.Reader { return warehouses.NewRepository(r.tx) }
func (r *txRepository) Catalog() catalog.Reader       { return catalog.NewRepository(r.tx) }

func (r *txRepository) ClaimIdempotencyKey(ctx context.Context, key, module string) error {
	return shared.ClaimIdempotencyKey(ctx, r.tx, key, module)
}

const orderColumns = `id, number, variant_id, qty, shipped_qty, source_warehouse_id, COALESCE(destination_warehouse_id, 0), destination,
COALESCE(source_inbound_batch_id, 0), status, note, COALESCE(created_by, 0), created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var status string
	err := row.Scan(&o.ID, &o.Number, &o.VariantID, &o.Qty, &o.ShippedQty, &o.SourceWarehouseID, &o.DestinationWarehouseID, &o.Destination,
		&o.SourceInboundBatchID, &status, &o.Note, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	o.Status = OrderStatus(status)
	return o, err
}

const batchColumns = `id, number, outbound_order_id, warehouse_id, variant_id, qty, shipped_at, carrier, vessel, eta, current_location,
last_event, last_event_at, status, arrival_confirmed_at, actual_arrival_at, COALESCE(arrival_warehouse_id, 0), COALESCE(created_by, 0), created_at, updated_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	var status string
	err := row.Scan(&b.ID, &b.Number, &b.OrderID, &b.WarehouseID, &b.VariantID, &b.Qty, &b.ShippedAt,
		&b.Logistics.Carrier, &b.Logistics.Vessel, &b.Logistics.ETA, &b.Logistics.CurrentLocation, &b.Logistics.LastEvent, &b.Logistics.LastEventAt,
		&status, &b.ArrivalConfirmedAt, &b.ActualArrivalAt, &b.ArrivalWarehouseID, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt)
	b.Status = BatchStatus(status)
	return b, err
}

func (r *txRepository) InsertOutboundOrder(ctx context.Context, o Order) (Order, error) {
	created, err := scanOrder(r.tx.QueryRow(ctx, `INSERT INTO outbound_orders (number, variant_id, qty, shipped_qty, source_warehouse_id, destination_warehouse_id, destination, source_inbound_batch_id, status, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,0,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW()) RETURNING `+orderColumns,
		o.Number, o.VariantID, o.Qty, o.SourceWarehouseID, nullInt(o.DestinationWarehouseID), o.Destination, nullInt(o.SourceInboundBatchID),
		string(o.Status), o.Note, nullInt(o.CreatedBy)))
	if db.IsUniqueViolation(err) {
		return Order{}, fmt.Errorf("%w (%s)", ErrDuplicateNumber, o.Number)
	}
	return created, err
}

func (r *txRepository) GetOutboundOrderForUpdate(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(r.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM outbound_orders WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("%w (id %d)", ErrOrderNotFound, id)
	}
	return o, err
}

func (r *txRepository) UpdateOutboundOrderProgress(ctx context.Context, id int64, shipped int64, status OrderStatus) error {
	_, err := r.tx.Exec(ctx, `UPDATE outbound_orders SET shipped_qty=$2, status=$3, updated_at=NOW() WHERE id=$1`, id, shipped, string(status))
	return err
}

func (r *txRepository) InsertOutboundBatch(ctx context.Context, b Batch) (Batch, error) {
	return scanBatch(r.tx.QueryRow(ctx, `INSERT INTO outbound_batches (number, outbound_order_id, warehouse_id, variant_id, qty, shipped_at, carrier, vessel, eta, current_location, last_event, last_event_at, status, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW(),NOW()) RETURNING `+batchColumns,
		b.Number, b.OrderID, b.WarehouseID, b.VariantID, b.Qty, b.ShippedAt, b.Logistics.Carrier, b.Logistics.Vessel, b.Logistics.ETA,
		b.Logistics.CurrentLocation, b.Logistics.LastEvent, b.Logistics.LastEventAt, string(b.Status), nullInt(b.CreatedBy)))
}

func (r *txRepository) GetOutboundBatchForUpdate(ctx context.Context, id int64) (Batch, error) {
	b, err := scanBatch(r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM outbound_batches WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, fmt.Errorf("%w (id %d)", ErrBatchNotFound, id)
	}
	return b, err
}

func (r *txRepository) UpdateOutboundBatch(ctx context.Context, b Batch) error {
	_, err := r.tx.Exec(ctx, `UPDATE outbound_batches SET carrier=$2, vessel=$3, eta=$4, current_location=$5, last_event=$6, last_event_at=$7,
status=$8, arrival_confirmed_at=$9, actual_arrival_at=$10, arrival_warehouse_id=$11, updated_at=NOW() WHERE id=$1`,
		b.ID, b.Logistics.Carrier, b.Logistics.Vessel, b.Logistics.ETA, b.Logistics.CurrentLocation, b.Logistics.LastEvent, b.Logistics.LastEventAt,
		string(b.Status), b.ArrivalConfirmedAt, b.ActualArrivalAt, nullInt(b.ArrivalWarehouseID))
	return err
}

// ExportedFromInboundBatch sums live batch quantities of orders created from
// an inbound batch. Cancelled batches do not count.
func (r *txRepository) ExportedFromInboundBatch(ctx context.Context, inboundBatchID int64) (int64, error) {
	var total int64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(b.qty), 0) FROM outbound_batches b
JOIN outbound_orders o ON o.id = b.outbound_order_id
WHERE o.source_inbound_batch_id = $1 AND b.status <> 'cancelled'`, inboundBatchID).Scan(&total)
	return total, err
}

// GetOutboundOrder loads an order.
func (r *Repository) GetOutboundOrder(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(r.runner.Pool().QueryRow(ctx, `SELECT `+orderColumns+` FROM outbound_orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("%w (id %d)", ErrOrderNotFound, id)
	}
	return o, err
}

// ListOutboundOrders returns orders newest first.
func (r *Repository) ListOutboundOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	rows, err := r.runner.Pool().Query(ctx, `SELECT `+orderColumns+` FROM outbound_orders
WHERE ($1 = '' OR status = $1) AND ($2 = 0 OR variant_id = $2)
ORDER BY id DESC
LIMIT $3 OFFSET $4`, string(filter.Status), filter.VariantID, filter.Page.Limit, filter.Page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetOutboundBatch loads a batch.
func (r *Repository) GetOutboundBatch(ctx context.Context, id int64) (Batch, error) {
	b, err := scanBatch(r.runner.Pool().QueryRow(ctx, `SELECT `+batchColumns+` FROM outbound_batches WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, fmt.Errorf("%w (id %d)", ErrBatchNotFound, id)
	}
	return b, err
}

// ListOutboundBatches returns the batches of one order.
func (r *Repository) ListOutboundBatches(ctx context.Context, orderID int64) ([]Batch, error) {
	rows, err := r.runner.Pool().Query(ctx, `SELECT `+batchColumns+` FROM outbound_batches WHERE outbound_order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Batch{}
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
