package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/goodsflow/internal/platform/db"
)

// Repository reads product_variants.
type Repository struct {
	q db.Querier
}

// NewRepository constructs Repository over a pool or transaction.
func NewRepository(q db.Querier) *Repository {
	return &Repository{q: q}
}

func scanVariant(row pgx.Row) (Variant, error) {
	var v Variant
	err := row.Scan(&v.ID, &v.SKU, &v.ProductID, &v.Name, &v.CreatedAt)
	return v, err
}

// GetVariant implements Reader.
func (r *Repository) GetVariant(ctx context.Context, id int64) (Variant, error) {
	v, err := scanVariant(r.q.QueryRow(ctx, `SELECT id, sku, product_id, name, created_at FROM product_variants WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Variant{}, fmt.Errorf("%w (id %d)", ErrVariantNotFound, id)
	}
	return v, err
}

// FindVariantBySKU implements Reader.
func (r *Repository) FindVariantBySKU(ctx context.Context, sku string) (Variant, error) {
	sku = NormalizeSKU(sku)
	v, err := scanVariant(r.q.QueryRow(ctx, `SELECT id, sku, product_id, name, created_at FROM product_variants WHERE sku=$1`, sku))
	if errors.Is(err, pgx.ErrNoRows) {
		return Variant{}, fmt.Errorf("%w (sku %q)", ErrVariantNotFound, sku)
	}
	return v, err
}

// CreateVariant inserts a variant.
func (r *Repository) CreateVariant(ctx context.Context, v Variant) (Variant, error) {
	created, err := scanVariant(r.q.QueryRow(ctx, `INSERT INTO product_variants (sku, product_id, name, created_at)
VALUES ($1,$2,$3,NOW()) RETURNING id, sku, product_id, name, created_at`, NormalizeSKU(v.SKU), v.ProductID, v.Name))
	if db.IsUniqueViolation(err) {
		return Variant{}, fmt.Errorf("%w: %s", ErrDuplicateSKU, v.SKU)
	}
	return created, err
}
