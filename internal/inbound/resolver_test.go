package inbound

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/goodsflow/internal/catalog"
	"github.com/odyssey-erp/goodsflow/internal/contracts"
	"github.com/odyssey-erp/goodsflow/internal/shared"
)

type stubCatalog map[string]int64

func (c stubCatalog) GetVariant(context.Context, int64) (catalog.Variant, error) {
	return catalog.Variant{}, catalog.ErrVariantNotFound
}

func (c stubCatalog) FindVariantBySKU(_ context.Context, sku string) (catalog.Variant, error) {
	id, ok := c[catalog.NormalizeSKU(sku)]
	if !ok {
		return catalog.Variant{}, catalog.ErrVariantNotFound
	}
	return catalog.Variant{ID: id, SKU: sku}, nil
}

type failingCatalog struct{ stubCatalog }

func (failingCatalog) FindVariantBySKU(context.Context, string) (catalog.Variant, error) {
	return catalog.Variant{}, errors.New("catalog offline")
}

func TestResolverChainOrder(t *testing.T) {
	chain := DefaultResolvers()
	ctx := context.Background()
	cat := stubCatalog{"SKU-1": 30}

	id, via, err := chain.Resolve(ctx, ResolveInput{Pending: PendingInbound{VariantID: 10, SKU: "SKU-1"}, Item: contracts.Item{VariantID: 20}, Catalog: cat})
	require.NoError(t, err)
	require.Equal(t, int64(10), id)
	require.Equal(t, "pending-inbound", via)

	id, via, err = chain.Resolve(ctx, ResolveInput{Item: contracts.Item{VariantID: 20, SKU: "SKU-1"}, Catalog: cat})
	require.NoError(t, err)
	require.Equal(t, int64(20), id)
	require.Equal(t, "contract-item", via)

	id, via, err = chain.Resolve(ctx, ResolveInput{Item: contracts.Item{SKU: "sku-1"}, Catalog: cat})
	require.NoError(t, err)
	require.Equal(t, int64(30), id)
	require.Equal(t, "legacy-sku", via)
}

func TestResolverChainExhausted(t *testing.T) {
	_, _, err := DefaultResolvers().Resolve(context.Background(), ResolveInput{
		Pending: PendingInbound{ID: 4, SKU: "GHOST"}, Catalog: stubCatalog{},
	})
	require.ErrorIs(t, err, shared.ErrUnresolvable)
	require.Contains(t, err.Error(), "GHOST")
}

func TestResolverChainSurfacesLookupFailure(t *testing.T) {
	_, _, err := DefaultResolvers().Resolve(context.Background(), ResolveInput{
		Pending: PendingInbound{SKU: "SKU-1"}, Catalog: failingCatalog{},
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, shared.ErrUnresolvable)
	require.Contains(t, err.Error(), "legacy-sku")
}
