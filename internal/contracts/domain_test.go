package contracts

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		current Status
		picked  int64
		want    Status
	}{
		{StatusPendingShipment, 0, StatusPendingShipment},
		{StatusPendingShipment, 60, StatusPartialShipment},
		{StatusPartialShipment, 100, StatusShipped},
		{StatusShipped, 40, StatusPartialShipment},
		{StatusShipped, 0, StatusPendingShipment},
		{StatusPendingApproval, 50, StatusPendingApproval},
		{StatusSettled, 10, StatusSettled},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, DeriveStatus(tc.current, tc.picked, 100), "%s with %d picked", tc.current, tc.picked)
	}
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	for _, s := range []Status{StatusSettled, StatusCancelled} {
		require.True(t, s.IsTerminal())
		require.False(t, CanTransition(s, StatusPendingShipment))
		require.False(t, CanTransition(s, StatusCancelled))
	}
	require.True(t, CanTransition(StatusShipped, StatusSettled))
	require.False(t, CanTransition(StatusPartialShipment, StatusSettled))
	require.False(t, CanTransition(StatusPendingApproval, StatusShipped))
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("partial-shipment")
	require.NoError(t, err)
	require.Equal(t, StatusPartialShipment, s)
	_, err = ParseStatus("done")
	require.Error(t, err)
}
