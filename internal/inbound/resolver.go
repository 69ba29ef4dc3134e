package inbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/goodsflow/internal/catalog"
	"github.com/odyssey-erp/goodsflow/internal/contracts"
	"github.com/odyssey-erp/goodsflow/internal/shared"
)

// ResolveInput carries what a resolver may look at.
type ResolveInput struct {
	Pending PendingInbound
	Item    contracts.Item
	Catalog catalog.Reader
}

// VariantResolver tries one way of finding the variant of a pending inbound.
// ok is false when the strategy has nothing to say.
type VariantResolver interface {
	Name() string
	Resolve(ctx context.Context, in ResolveInput) (variantID int64, ok bool, err error)
}

// ResolverChain tries resolvers in order and stops at the first match.
type ResolverChain []VariantResolver

// DefaultResolvers is pending inbound reference, then contract item variant,
// then sku lookup in the catalog.
func DefaultResolvers() ResolverChain {
	return ResolverChain{pendingReference{}, contractItemVariant{}, legacySKU{}}
}

// Resolve returns the first match. Exhausting the chain is an
// ErrUnresolvable data problem, never a default.
func (c ResolverChain) Resolve(ctx context.Context, in ResolveInput) (int64, string, error) {
	for _, r := range c {
		id, ok, err := r.Resolve(ctx, in)
		if err != nil {
			return 0, "", fmt.Errorf("resolve variant via %s: %w", r.Name(), err)
		}
		if ok {
			return id, r.Name(), nil
		}
	}
	return 0, "", fmt.Errorf("%w: no variant for pending inbound %d (sku %q)", shared.ErrUnresolvable, in.Pending.ID, firstNonEmpty(in.Pending.SKU, in.Item.SKU))
}

type pendingReference struct{}

func (pendingReference) Name() string { return "pending-inbound" }

func (pendingReference) Resolve(_ context.Context, in ResolveInput) (int64, bool, error) {
	return in.Pending.VariantID, in.Pending.VariantID > 0, nil
}

type contractItemVariant struct{}

func (contractItemVariant) Name() string { return "contract-item" }

func (contractItemVariant) Resolve(_ context.Context, in ResolveInput) (int64, bool, error) {
	return in.Item.VariantID, in.Item.VariantID > 0, nil
}

type legacySKU struct{}

func (legacySKU) Name() string { return "legacy-sku" }

func (legacySKU) Resolve(ctx context.Context, in ResolveInput) (int64, bool, error) {
	sku := firstNonEmpty(in.Pending.SKU, in.Item.SKU)
	if sku == "" || in.Catalog == nil {
		return 0, false, nil
	}
	v, err := in.Catalog.FindVariantBySKU(ctx, sku)
	if errors.Is(err, catalog.ErrVariantNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v.ID, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
