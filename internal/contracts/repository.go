package contracts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/goodsflow/internal/platform/db"
)

// Repository persists contracts in PostgreSQL.
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
		return errors.New("contracts repository not initialised")
	}
	return r.runner.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

type txRepository struct {
	q db.Querier
}

// NewTxRepository binds contract statements to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{q: tx}
}

func (r *txRepository) InsertContract(ctx context.Context, c Contract) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO contracts (number, counterparty, currency, total_amount, deposit_rate, deposit_amount, status, note, signed_at, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4::numeric,$5::numeric,$6::numeric,$7,$8,$9,$10,NOW(),NOW()) RETURNING id`,
		c.Number, c.Counterparty, c.Currency, c.TotalAmount.String(), c.DepositRate.String(), c.DepositAmount.String(),
		string(c.Status), c.Note, c.SignedAt, nullInt(c.CreatedBy)).Scan(&id)
	if db.IsUniqueViolation(err) {
		return 0, fmt.Errorf("%w (%s)", ErrDuplicateNumber, c.Number)
	}
	return id, err
}

func (r *txRepository) InsertContractItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO contract_items (contract_id, line_no, variant_id, sku, unit_price, ordered_qty, picked_qty, finished_qty)
VALUES ($1,$2,$3,$4,$5::numeric,$6,0,0) RETURNING id`,
		item.ContractID, item.LineNo, nullInt(item.VariantID), item.SKU, item.UnitPrice.String(), item.OrderedQty).Scan(&id)
	return id, err
}

func (r *txRepository) GetContractForUpdate(ctx context.Context, id int64) (Contract, error) {
	c, err := scanContract(r.q.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Contract{}, notFound(err, id)
	}
	c.Items, err = loadItems(ctx, r.q, id, true)
	return c, err
}

func (r *txRepository) UpdateContractStatus(ctx context.Context, id int64, status Status) error {
	_, err := r.q.Exec(ctx, `UPDATE contracts SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	return err
}

func (r *txRepository) UpdateContractItemQty(ctx context.Context, itemID, picked, finished int64) error {
	_, err := r.q.Exec(ctx, `UPDATE contract_items SET picked_qty=$2, finished_qty=$3 WHERE id=$1`, itemID, picked, finished)
	return err
}

// GetContract loads a contract and its items.
func (r *Repository) GetContract(ctx context.Context, id int64) (Contract, error) {
	q := r.runner.Pool()
	c, err := scanContract(q.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id=$1`, id))
	if err != nil {
		return Contract{}, notFound(err, id)
	}
	c.Items, err = loadItems(ctx, q, id, false)
	return c, err
}

// ListContracts returns contracts newest first, items included.
func (r *Repository) ListContracts(ctx context.Context, filter ListFilter) ([]Contract, error) {
	q := r.runner.Pool()
	rows, err := q.Query(ctx, `SELECT `+contractColumns+` FROM contracts
WHERE ($1 = '' OR status = $1)
ORDER BY id DESC
LIMIT $2 OFFSET $3`, string(filter.Status), filter.Page.Limit, filter.Page.Offset)
	if err != nil {
		return nil, err
	}
	out := []Contract{}
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Items, err = loadItems(ctx, q, out[i].ID, false); err != nil {
			return nil, err
		}
	}
	return out, nil
}

const contractColumns = `id, number, counterparty, currency, total_amount::text, deposit_rate::text, deposit_amount::text, status, note, signed_at, COALESCE(created_by, 0), created_at, updated_at`

func scanContract(row pgx.Row) (Contract, error) {
	var (
		c                    Contract
		total, rate, deposit string
		status               string
	)
	if err := row.Scan(&c.ID, &c.Number, &c.Counterparty, &c.Currency, &total, &rate, &deposit, &status, &c.Note, &c.SignedAt, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Contract{}, err
	}
	c.Status = Status(status)
	var err error
	if c.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return Contract{}, err
	}
	if c.DepositRate, err = decimal.NewFromString(rate); err != nil {
		return Contract{}, err
	}
	if c.DepositAmount, err = decimal.NewFromString(deposit); err != nil {
		return Contract{}, err
	}
	return c, nil
}

func loadItems(ctx context.Context, q db.Querier, contractID int64, lock bool) ([]Item, error) {
	query := `SELECT id, contract_id, line_no, COALESCE(variant_id, 0), sku, unit_price::text, ordered_qty, picked_qty, finished_qty
FROM contract_items WHERE contract_id=$1 ORDER BY line_no`
	if lock {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var it Item
		var price string
		if err := rows.Scan(&it.ID, &it.ContractID, &it.LineNo, &it.VariantID, &it.SKU, &price, &it.OrderedQty, &it.PickedQty, &it.FinishedQty); err != nil {
			return nil, err
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func notFound(err error, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w (id %d)", ErrContractNotFound, id)
	}
	return err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
