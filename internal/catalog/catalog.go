// Package catalog is the read side of the product catalog: variant lookup by
// id and by sku.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/goodsflow/internal/shared"
)

// Variant is one sellable unit of a product.
type Variant struct {
	ID        int64     `json:"id"`
	SKU       string    `json:"sku"`
	ProductID int64     `json:"product_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	// ErrVariantNotFound indicates the id or sku does not exist.
	ErrVariantNotFound = fmt.Errorf("%w: variant", shared.ErrNotFound)
	// ErrDuplicateSKU indicates the sku is already registered.
	ErrDuplicateSKU = fmt.Errorf("%w: sku already exists", shared.ErrValidation)
)

// Reader resolves variants.
type Reader interface {
	GetVariant(ctx context.Context, id int64) (Variant, error)
	FindVariantBySKU(ctx context.Context, sku string) (Variant, error)
}

// NormalizeSKU trims and upper-cases a sku so lookups are case-insensitive.
func NormalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

// CreateVariantInput registers a variant.
type CreateVariantInput struct {
	SKU       string `json:"sku" validate:"required,max=64"`
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Name      string `json:"name" validate:"max=200"`
}
