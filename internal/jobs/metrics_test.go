package jobmetrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestStartRecordsOutcomes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	boom := errors.New("boom")

	require.NoError(t, m.Start("ledger:reconcile")(nil))
	require.ErrorIs(t, m.Start("ledger:reconcile")(boom), boom)
	require.ErrorIs(t, m.Start("ledger:reconcile")(fmt.Errorf("bad payload: %w", asynq.SkipRetry)), asynq.SkipRetry)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger:reconcile", StatusSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger:reconcile", StatusFailure)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger:reconcile", StatusRejected)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("ledger:reconcile")))

	m.AddMismatches(3)
	m.AddMismatches(-1)
	require.Equal(t, 3.0, testutil.ToFloat64(m.mismatches))
}

func TestNilMetricsIsSilent(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	require.ErrorIs(t, m.Start("x")(boom), boom)
	m.AddMismatches(1)
	m.Skipped("x", "locked")
}
