package warehouses_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/goodsflow/internal/shared"
	"github.com/odyssey-erp/goodsflow/internal/testing/memstore"
	"github.com/odyssey-erp/goodsflow/internal/warehouses"
)

func TestWarehouseDirectory(t *testing.T) {
	store := memstore.New()
	svc := warehouses.NewService(store, store, nil)
	manager := shared.ContextWithActor(context.Background(), shared.Actor{ID: 1, Role: shared.RoleManager})
	viewer := shared.ContextWithActor(context.Background(), shared.Actor{ID: 2, Role: shared.RoleViewer})

	wh, err := svc.Create(manager, warehouses.CreateInput{Code: " jkt-01 ", Name: "Jakarta", Type: warehouses.TypeDomestic})
	require.NoError(t, err)
	require.Equal(t, "JKT-01", wh.Code)
	require.True(t, wh.Active)

	_, err = svc.Create(manager, warehouses.CreateInput{Code: "JKT-01", Name: "Again", Type: warehouses.TypeDomestic})
	require.ErrorIs(t, err, warehouses.ErrDuplicateCode)

	_, err = svc.Create(manager, warehouses.CreateInput{Code: "X", Name: "Moon", Type: "orbital"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(viewer, warehouses.CreateInput{Code: "SBY", Name: "Surabaya", Type: warehouses.TypeDomestic})
	require.ErrorIs(t, err, shared.ErrForbidden)

	off, err := svc.SetActive(manager, wh.ID, false)
	require.NoError(t, err)
	require.False(t, off.Active)

	_, err = warehouses.RequireActive(context.Background(), store, wh.ID)
	require.ErrorIs(t, err, warehouses.ErrInactive)

	all, err := svc.List(viewer, warehouses.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	active, err := svc.List(viewer, warehouses.ListFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Empty(t, active)

	require.Len(t, store.Audits(), 2)
}
