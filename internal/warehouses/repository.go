package warehouses

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/goodsflow/internal/platform/db"
)

// Repository persists warehouses in PostgreSQL. It accepts either the pool or
// an open transaction.
type Repository struct {
	q db.Querier
}

// NewRepository constructs Repository.
func NewRepository(q db.Querier) *Repository {
	return &Repository{q: q}
}

const warehouseColumns = `id, code, name, type, active, created_at, updated_at`

func scanWarehouse(row pgx.Row) (Warehouse, error) {
	var wh Warehouse
	var typ string
	if err := row.Scan(&wh.ID, &wh.Code, &wh.Name, &typ, &wh.Active, &wh.CreatedAt, &wh.UpdatedAt); err != nil {
		return Warehouse{}, err
	}
	wh.Type = Type(typ)
	return wh, nil
}

// GetWarehouse implements Reader.
func (r *Repository) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	wh, err := scanWarehouse(r.q.QueryRow(ctx, `SELECT `+warehouseColumns+` FROM warehouses WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Warehouse{}, fmt.Errorf("%w (id %d)", ErrNotFound, id)
	}
	return wh, err
}

// ListWarehouses returns warehouses ordered by code.
func (r *Repository) ListWarehouses(ctx context.Context, filter ListFilter) ([]Warehouse, error) {
	rows, err := r.q.Query(ctx, `SELECT `+warehouseColumns+` FROM warehouses
WHERE ($1 = FALSE OR active) AND ($2 = '' OR type = $2)
ORDER BY code`, filter.ActiveOnly, string(filter.Type))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Warehouse{}
	for rows.Next() {
		wh, err := scanWarehouse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wh)
	}
	return out, rows.Err()
}

// CreateWarehouse inserts a warehouse and returns it with its id.
func (r *Repository) CreateWarehouse(ctx context.Context, wh Warehouse) (Warehouse, error) {
	created, err := scanWarehouse(r.q.QueryRow(ctx, `INSERT INTO warehouses (code, name, type, active, created_at, updated_at)
VALUES ($1,$2,$3,$4,NOW(),NOW()) RETURNING `+warehouseColumns, wh.Code, wh.Name, string(wh.Type), wh.Active))
	if db.IsUniqueViolation(err) {
		return Warehouse{}, fmt.Errorf("%w: %s", ErrDuplicateCode, wh.Code)
	}
	return created, err
}

// SetActive toggles the active flag.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool) (Warehouse, error) {
	wh, err := scanWarehouse(r.q.QueryRow(ctx, `UPDATE warehouses SET active=$2, updated_at=NOW() WHERE id=$1 RETURNING `+warehouseColumns, id, active))
	if errors.Is(err, pgx.ErrNoRows) {
		return Warehouse{}, fmt.Errorf("%w (id %d)", ErrNotFound, id)
	}
	return wh, err
}
