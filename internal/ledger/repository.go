package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/goodsflow/internal/platform/db"
)

// Repository persists stock rows and both logs in PostgreSQL.
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
		return errors.New("ledger repository not initialised")
	}
	return r.runner.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

type txRepository struct {
	q db.Querier
}

// NewTxRepository binds the ledger statements to an open transaction so
// other pipelines can post stock inside their own unit of work.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{q: tx}
}

const stockColumns = `variant_id, warehouse_id, quantity, reserved, available, version, updated_at`

func scanStock(row pgx.Row) (Stock, error) {
	var s Stock
	err := row.Scan(&s.VariantID, &s.WarehouseID, &s.Quantity, &s.Reserved, &s.Available, &s.Version, &s.UpdatedAt)
	return s, err
}

func (r *txRepository) GetStockForUpdate(ctx context.Context, variantID, warehouseID int64) (Stock, error) {
	s, err := scanStock(r.q.QueryRow(ctx, `SELECT `+stockColumns+` FROM stock WHERE variant_id=$1 AND warehouse_id=$2 FOR UPDATE`, variantID, warehouseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Stock{VariantID: variantID, WarehouseID: warehouseID}, ErrStockNotFound
	}
	return s, err
}

// UpsertStock writes the row only if its stored version is the one the
// caller read, so a lost lock can never silently overwrite a newer value.
func (r *txRepository) UpsertStock(ctx context.Context, s Stock) error {
	tag, err := r.q.Exec(ctx, `INSERT INTO stock (variant_id, warehouse_id, quantity, reserved, available, version, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
ON CONFLICT (variant_id, warehouse_id) DO UPDATE
SET quantity=EXCLUDED.quantity, reserved=EXCLUDED.reserved, available=EXCLUDED.available, version=EXCLUDED.version, updated_at=NOW()
WHERE stock.version = EXCLUDED.version - 1`, s.VariantID, s.WarehouseID, s.Quantity, s.Reserved, s.Available, s.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w (variant %d, warehouse %d, version %d)", ErrConcurrentUpdate, s.VariantID, s.WarehouseID, s.Version)
	}
	return nil
}

func (r *txRepository) AppendMovement(ctx context.Context, mv Movement) (Movement, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO stock_movements (variant_id, warehouse_id, sequence, reason, delta, qty_before, qty_after, ref_type, ref_id, ref_number, actor_id, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW()) RETURNING id, created_at`,
		mv.VariantID, mv.WarehouseID, mv.Sequence, string(mv.Reason), mv.Delta, mv.QtyBefore, mv.QtyAfter,
		mv.Ref.Type, nullInt(mv.Ref.ID), mv.Ref.Number, nullInt(mv.ActorID), mv.Note).Scan(&mv.ID, &mv.CreatedAt)
	return mv, err
}

func (r *txRepository) AppendInventoryLog(ctx context.Context, log InventoryLog) (InventoryLog, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO inventory_logs (type, status, variant_id, from_warehouse_id, to_warehouse_id, qty, ref_type, ref_id, ref_number, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id, created_at`,
		string(log.Type), string(log.Status), log.VariantID, nullInt(log.FromWarehouseID), nullInt(log.ToWarehouseID), log.Qty,
		log.Ref.Type, nullInt(log.Ref.ID), log.Ref.Number).Scan(&log.ID, &log.CreatedAt)
	return log, err
}

// GetStock returns the row for a pair without locking.
func (r *Repository) GetStock(ctx context.Context, variantID, warehouseID int64) (Stock, error) {
	s, err := scanStock(r.runner.Pool().QueryRow(ctx, `SELECT `+stockColumns+` FROM stock WHERE variant_id=$1 AND warehouse_id=$2`, variantID, warehouseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Stock{VariantID: variantID, WarehouseID: warehouseID}, fmt.Errorf("%w (variant %d, warehouse %d)", ErrStockNotFound, variantID, warehouseID)
	}
	return s, err
}

func (r *Repository) ListStock(ctx context.Context, filter StockFilter) ([]Stock, error) {
	rows, err := r.runner.Pool().Query(ctx, `SELECT `+stockColumns+` FROM stock
WHERE ($1 = 0 OR variant_id = $1) AND ($2 = 0 OR warehouse_id = $2)
ORDER BY variant_id, warehouse_id
LIMIT $3 OFFSET $4`, filter.VariantID, filter.WarehouseID, filter.Page.Limit, filter.Page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Stock{}
	for rows.Next() {
		s, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const movementColumns = `id, variant_id, warehouse_id, sequence, reason, delta, qty_before, qty_after, ref_type, COALESCE(ref_id, 0), ref_number, COALESCE(actor_id, 0), note, created_at`

func scanMovements(rows pgx.Rows) ([]Movement, error) {
	defer rows.Close()
	out := []Movement{}
	for rows.Next() {
		var mv Movement
		var reason string
		if err := rows.Scan(&mv.ID, &mv.VariantID, &mv.WarehouseID, &mv.Sequence, &reason, &mv.Delta, &mv.QtyBefore, &mv.QtyAfter,
			&mv.Ref.Type, &mv.Ref.ID, &mv.Ref.Number, &mv.ActorID, &mv.Note, &mv.CreatedAt); err != nil {
			return nil, err
		}
		mv.Reason = Reason(reason)
		out = append(out, mv)
	}
	return out, rows.Err()
}

func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	rows, err := r.runner.Pool().Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE ($1 = 0 OR variant_id = $1) AND ($2 = 0 OR warehouse_id = $2) AND ($3 = '' OR reason = $3)
  AND ($4 = '' OR ref_type = $4) AND ($5 = 0 OR ref_id = $5)
ORDER BY variant_id, warehouse_id, sequence
LIMIT $6 OFFSET $7`, filter.VariantID, filter.WarehouseID, string(filter.Reason), filter.RefType, filter.RefID, filter.Page.Limit, filter.Page.Offset)
	if err != nil {
		return nil, err
	}
	return scanMovements(rows)
}

// PairSnapshot reads the stock row and its movement log in one read-only
// snapshot, so a posting committed in between cannot split them.
func (r *Repository) PairSnapshot(ctx context.Context, variantID, warehouseID int64) (Stock, []Movement, error) {
	stock := Stock{VariantID: variantID, WarehouseID: warehouseID}
	var movements []Movement
	err := r.runner.ReadSnapshot(ctx, func(tx pgx.Tx) error {
		row, err := scanStock(tx.QueryRow(ctx, `SELECT `+stockColumns+` FROM stock WHERE variant_id=$1 AND warehouse_id=$2`, variantID, warehouseID))
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return err
		default:
			stock = row
		}
		rows, err := tx.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE variant_id=$1 AND warehouse_id=$2 ORDER BY sequence`, variantID, warehouseID)
		if err != nil {
			return err
		}
		movements, err = scanMovements(rows)
		return err
	})
	return stock, movements, err
}

// StockPageAfter pages stock rows by key instead of offset, so rows inserted
// during a walk never shift the pages that follow.
func (r *Repository) StockPageAfter(ctx context.Context, after PairKey, limit int) ([]Stock, error) {
	rows, err := r.runner.Pool().Query(ctx, `SELECT `+stockColumns+` FROM stock
WHERE (variant_id, warehouse_id) > ($1, $2)
ORDER BY variant_id, warehouse_id
LIMIT $3`, after.VariantID, after.WarehouseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Stock{}
	for rows.Next() {
		s, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) ListInventoryLogs(ctx context.Context, filter InventoryLogFilter) ([]InventoryLog, error) {
	rows, err := r.runner.Pool().Query(ctx, `SELECT id, type, status, variant_id, COALESCE(from_warehouse_id, 0), COALESCE(to_warehouse_id, 0), qty, ref_type, COALESCE(ref_id, 0), ref_number, created_at
FROM inventory_logs
WHERE ($1 = 0 OR variant_id = $1) AND ($2 = '' OR ref_type = $2) AND ($3 = 0 OR ref_id = $3)
ORDER BY id DESC
LIMIT $4 OFFSET $5`, filter.VariantID, filter.RefType, filter.RefID, filter.Page.Limit, filter.Page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []InventoryLog{}
	for rows.Next() {
		var log InventoryLog
		var typ, status string
		if err := rows.Scan(&log.ID, &typ, &status, &log.VariantID, &log.FromWarehouseID, &log.ToWarehouseID, &log.Qty,
			&log.Ref.Type, &log.Ref.ID, &log.Ref.Number, &log.CreatedAt); err != nil {
			return nil, err
		}
		log.Type = InventoryLogType(typ)
		log.Status = InventoryLogStatus(status)
		out = append(out, log)
	}
	return out, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
