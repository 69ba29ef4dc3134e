package contracts_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/goodsflow/internal/contracts"
	"github.com/odyssey-erp/goodsflow/internal/shared"
	"github.com/odyssey-erp/goodsflow/internal/testing/memstore"
)

func actorCtx(role shared.Role) context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{ID: 11, Role: role})
}

func newContract(t *testing.T, svc *contracts.Service, qty ...int64) contracts.Contract {
	t.Helper()
	input := contracts.CreateInput{Counterparty: "Acme Trading", Currency: "usd", DepositRate: decimal.RequireFromString("0.3")}
	for i, q := range qty {
		input.Items = append(input.Items, contracts.ItemInput{
			SKU:       "SKU-" + string(rune('A'+i)),
			UnitPrice: decimal.RequireFromString("2.50"),
			Qty:       q,
		})
	}
	c, err := svc.CreateContract(actorCtx(shared.RoleOperator), input)
	require.NoError(t, err)
	return c
}

func TestCreateContractComputesAmounts(t *testing.T) {
	store := memstore.New()
	svc := contracts.NewService(store.Contracts(), contracts.Config{}, store, nil)

	c := newContract(t, svc, 100, 20)
	require.Equal(t, contracts.StatusPendingShipment, c.Status)
	require.Equal(t, "USD", c.Currency)
	require.True(t, decimal.RequireFromString("300").Equal(c.TotalAmount), c.TotalAmount.String())
	require.True(t, decimal.RequireFromString("90").Equal(c.DepositAmount), c.DepositAmount.String())
	require.Len(t, c.Items, 2)
	require.Equal(t, 1, c.Items[0].LineNo)
	require.Zero(t, c.TotalPicked())
	require.NotEmpty(t, c.Number)
	require.Equal(t, int64(11), c.CreatedBy)

	audits := store.Audits()
	require.Len(t, audits, 1)
	require.Equal(t, "contract.create", audits[0].Action)
}

func TestCreateContractRejectsBadInput(t *testing.T) {
	store := memstore.New()
	svc := contracts.NewService(store.Contracts(), contracts.Config{}, nil, nil)
	ctx := actorCtx(shared.RoleOperator)

	_, err := svc.CreateContract(ctx, contracts.CreateInput{Counterparty: "Acme"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateContract(ctx, contracts.CreateInput{
		Counterparty: "Acme",
		DepositRate:  decimal.RequireFromString("1.5"),
		Items:        []contracts.ItemInput{{SKU: "A", UnitPrice: decimal.NewFromInt(1), Qty: 1}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateContract(ctx, contracts.CreateInput{
		Counterparty: "Acme",
		Items:        []contracts.ItemInput{{SKU: "A", UnitPrice: decimal.Zero, Qty: 1}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateContract(actorCtx(shared.RoleViewer), contracts.CreateInput{Counterparty: "Acme"})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestPickupProgressionAndOverPick(t *testing.T) {
	store := memstore.New()
	svc := contracts.NewService(store.Contracts(), contracts.Config{}, nil, nil)
	ctx := actorCtx(shared.RoleOperator)
	c := newContract(t, svc, 100)
	item := c.Items[0].ID

	c, err := svc.RecordPickup(ctx, c.ID, []contracts.Allocation{{ItemID: item, Qty: 60}})
	require.NoError(t, err)
	require.Equal(t, contracts.StatusPartialShipment, c.Status)
	require.Equal(t, int64(40), c.Remaining())

	c, err = svc.RecordPickup(ctx, c.ID, []contracts.Allocation{{ItemID: item, Qty: 40}})
	require.NoError(t, err)
	require.Equal(t, contracts.StatusShipped, c.Status)

	_, err = svc.RecordPickup(ctx, c.ID, []contracts.Allocation{{ItemID: item, Qty: 1}})
	require.ErrorIs(t, err, contracts.ErrOverPick)
	require.ErrorIs(t, err, shared.ErrValidation)

	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, int64(100), got.TotalPicked())
	require.Equal(t, contracts.StatusShipped, got.Status)
}

func TestPickupIsAllOrNothingAcrossLines(t *testing.T) {
	store := memstore.New()
	svc := contracts.NewService(store.Contracts(), contracts.Config{}, nil, nil)
	ctx := actorCtx(shared.RoleOperator)
	c := newContract(t, svc, 10, 5)

	_, err := svc.RecordPickup(ctx, c.ID, []contracts.Allocation{
		{ItemID: c.Items[0].ID, Qty: 10},
		{ItemID: c.Items[1].ID, Qty: 6},
	})
	require.ErrorIs(t, err, contracts.ErrOverPick)

	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Zero(t, got.TotalPicked())
	require.Equal(t, contracts.StatusPendingShipment, got.Status)

	_, err = svc.RecordPickup(ctx, c.ID, []contracts.Allocation{{ItemID: 9999, Qty: 1}})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestReleaseAndFinishedBounds(t *testing.T) {
	store := memstore.New()
	repo := store.Contracts()
	svc := contracts.NewService(repo, contracts.Config{}, nil, nil)
	ctx := actorCtx(shared.RoleOperator)
	c := newContract(t, svc, 10)
	item := c.Items[0].ID

	_, err := svc.RecordPickup(ctx, c.ID, []contracts.Allocation{{ItemID: item, Qty: 10}})
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(ctx context.Context, tx contracts.TxRepository) error {
		return svc.RecordFinished(ctx, tx, c.ID, item, 4)
	})
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(ctx context.Context, tx contracts.TxRepository) error {
		_, err := svc.ReleasePickup(ctx, tx, c.ID, []contracts.Allocation{{ItemID: item, Qty: 7}})
		return err
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	var released contracts.Contract
	err = repo.WithTx(ctx, func(ctx context.Context, tx contracts.TxRepository) error {
		var err error
		released, err = svc.ReleasePickup(ctx, tx, c.ID, []contracts.Allocation{{ItemID: item, Qty: 6}})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, contracts.StatusPartialShipment, released.Status)
	require.Equal(t, int64(4), released.Items[0].PickedQty)

	err = repo.WithTx(ctx, func(ctx context.Context, tx contracts.TxRepository) error {
		return svc.RecordFinished(ctx, tx, c.ID, item, 1)
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestApprovalFlow(t *testing.T) {
	store := memstore.New()
	svc := contracts.NewService(store.Contracts(), contracts.Config{ApprovalRequired: true}, store, nil)
	c := newContract(t, svc, 10)
	require.Equal(t, contracts.StatusPendingApproval, c.Status)

	_, err := svc.RecordPickup(actorCtx(shared.RoleOperator), c.ID, []contracts.Allocation{{ItemID: c.Items[0].ID, Qty: 1}})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = svc.Approve(actorCtx(shared.RoleOperator), c.ID, contracts.DecisionInput{Decision: contracts.DecisionApprove})
	require.ErrorIs(t, err, shared.ErrForbidden)

	approved, err := svc.Approve(actorCtx(shared.RoleManager), c.ID, contracts.DecisionInput{Decision: contracts.DecisionApprove})
	require.NoError(t, err)
	require.Equal(t, contracts.StatusPendingShipment, approved.Status)

	_, err = svc.Approve(actorCtx(shared.RoleManager), c.ID, contracts.DecisionInput{Decision: contracts.DecisionReject})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestSettleAndCancel(t *testing.T) {
	store := memstore.New()
	svc := contracts.NewService(store.Contracts(), contracts.Config{}, store, nil)
	manager := actorCtx(shared.RoleManager)
	c := newContract(t, svc, 10)

	_, err := svc.Settle(manager, c.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = svc.RecordPickup(manager, c.ID, []contracts.Allocation{{ItemID: c.Items[0].ID, Qty: 10}})
	require.NoError(t, err)
	settled, err := svc.Settle(manager, c.ID)
	require.NoError(t, err)
	require.Equal(t, contracts.StatusSettled, settled.Status)

	_, err = svc.Cancel(manager, c.ID, "late")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	other := newContract(t, svc, 3)
	cancelled, err := svc.Cancel(manager, other.ID, "buyer withdrew")
	require.NoError(t, err)
	require.Equal(t, contracts.StatusCancelled, cancelled.Status)
}

func TestCreateContractRollsBackOnItemFailure(t *testing.T) {
	store := memstore.New()
	svc := contracts.NewService(store.Contracts(), contracts.Config{}, nil, nil)
	store.FailOn("InsertContractItem", errors.New("connection reset"))

	_, err := svc.CreateContract(actorCtx(shared.RoleOperator), contracts.CreateInput{
		Number:       "CT-1",
		Counterparty: "Acme",
		Items:        []contracts.ItemInput{{SKU: "A", UnitPrice: decimal.NewFromInt(1), Qty: 1}},
	})
	require.Error(t, err)

	list, err := svc.List(actorCtx(shared.RoleViewer), contracts.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, list)
}
