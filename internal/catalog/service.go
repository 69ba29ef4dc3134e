package catalog

import (
	"context"

	"github.com/odyssey-erp/goodsflow/internal/shared"
)

// Store is the persistence used by Service.
type Store interface {
	Reader
	CreateVariant(ctx context.Context, v Variant) (Variant, error)
}

// Service exposes variant lookups.
type Service struct {
	store Store
}

// NewService builds Service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Get returns a variant by id.
func (s *Service) Get(ctx context.Context, id int64) (Variant, error) {
	if err := shared.RequireRole(ctx, shared.RoleRead); err != nil {
		return Variant{}, err
	}
	return s.store.GetVariant(ctx, id)
}

// FindBySKU returns a variant by sku.
func (s *Service) FindBySKU(ctx context.Context, sku string) (Variant, error) {
	if err := shared.RequireRole(ctx, shared.RoleRead); err != nil {
		return Variant{}, err
	}
	return s.store.FindVariantBySKU(ctx, sku)
}

// Create registers a variant. Normally the catalog is fed by the product
// system; this exists for seeding and operator fixes.
func (s *Service) Create(ctx context.Context, input CreateVariantInput) (Variant, error) {
	if err := shared.RequireRole(ctx, shared.RoleElevated); err != nil {
		return Variant{}, err
	}
	input.SKU = NormalizeSKU(input.SKU)
	if err := shared.Validate(input); err != nil {
		return Variant{}, err
	}
	return s.store.CreateVariant(ctx, Variant{SKU: input.SKU, ProductID: input.ProductID, Name: input.Name})
}
