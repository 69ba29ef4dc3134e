package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplayChainsMovements(t *testing.T) {
	qty, breaks := Replay([]Movement{
		{Sequence: 1, Delta: 100, QtyBefore: 0, QtyAfter: 100},
		{Sequence: 2, Delta: -40, QtyBefore: 100, QtyAfter: 60},
		{Sequence: 3, Delta: 5, QtyBefore: 60, QtyAfter: 65},
	})
	require.Equal(t, int64(65), qty)
	require.Empty(t, breaks)
}

func TestReplayReportsBrokenEntries(t *testing.T) {
	qty, breaks := Replay([]Movement{
		{Sequence: 1, Delta: 10, QtyBefore: 0, QtyAfter: 10},
		{Sequence: 3, Delta: -4, QtyBefore: 9, QtyAfter: 5},
		{Sequence: 2, Delta: 1, QtyBefore: 6, QtyAfter: 8},
	})
	require.Equal(t, int64(7), qty)
	require.Len(t, breaks, 3)
	require.Equal(t, int64(3), breaks[0].Sequence)
	require.Contains(t, breaks[0].Problem, "qty_before 9")
	require.Contains(t, breaks[1].Problem, "not after 3")
}

func TestApplyDeltaGuardsAvailable(t *testing.T) {
	row := Stock{VariantID: 1, WarehouseID: 2, Quantity: 10, Reserved: 4, Available: 6, Version: 3}

	_, err := applyDelta(row, -7)
	require.ErrorIs(t, err, ErrInsufficientStock)

	next, err := applyDelta(row, -6)
	require.NoError(t, err)
	require.Equal(t, int64(4), next.Quantity)
	require.Equal(t, int64(0), next.Available)
	require.Equal(t, int64(4), next.Version)

	_, err = applyDelta(row, 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestStockCheck(t *testing.T) {
	require.NoError(t, Stock{Quantity: 5, Reserved: 2, Available: 3}.Check())
	require.ErrorIs(t, Stock{Quantity: 5, Reserved: 2, Available: 4}.Check(), ErrInvariant)
	require.ErrorIs(t, Stock{Quantity: -1, Available: -1}.Check(), ErrInvariant)
}
