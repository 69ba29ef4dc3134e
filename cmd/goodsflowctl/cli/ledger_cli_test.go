package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/goodsflow/internal/ledger"
	"github.com/odyssey-erp/goodsflow/jobs"
)

type stubVerifier struct {
	rec ledger.Reconciliation
	err error
}

func (s stubVerifier) Verify(_ context.Context, variantID, warehouseID int64) (ledger.Reconciliation, error) {
	s.rec.VariantID, s.rec.WarehouseID = variantID, warehouseID
	return s.rec, s.err
}

type stubReconciler struct {
	report ledger.ReconcileReport
	err    error
}

func (s stubReconciler) Run(context.Context, int) (ledger.ReconcileReport, error) {
	return s.report, s.err
}

func TestVerifyCommandJSONSuccess(t *testing.T) {
	cli := NewLedgerCLI(stubVerifier{rec: ledger.Reconciliation{Quantity: 40, Replayed: 40, Entries: 3}}, nil)
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)

	code := cli.VerifyCommand(context.Background(), VerifyOptions{
		VariantID:     7,
		WarehouseID:   2,
		OutputOptions: OutputOptions{JSONOutput: true, Stdout: stdout, Stderr: stderr},
	})
	require.Equal(t, ExitOK, code)
	require.Empty(t, stderr.String())

	var summary struct {
		OK          bool  `json:"ok"`
		VariantID   int64 `json:"variant_id"`
		WarehouseID int64 `json:"warehouse_id"`
		Entries     int   `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.True(t, summary.OK)
	require.Equal(t, int64(7), summary.VariantID)
	require.Equal(t, 3, summary.Entries)
}

func TestVerifyCommandReportsMismatch(t *testing.T) {
	rec := ledger.Reconciliation{Quantity: 40, Replayed: 30, Breaks: []ledger.ChainBreak{{Sequence: 2, Problem: "qty_before 5, expected 10"}}}
	cli := NewLedgerCLI(stubVerifier{rec: rec}, nil)
	stdout := new(bytes.Buffer)

	code := cli.VerifyCommand(context.Background(), VerifyOptions{VariantID: 1, WarehouseID: 1, OutputOptions: OutputOptions{Stdout: stdout, Stderr: new(bytes.Buffer)}})
	require.Equal(t, ExitMismatch, code)
	require.Contains(t, stdout.String(), "MISMATCH")
	require.Contains(t, stdout.String(), "seq 2: qty_before 5, expected 10")
}

func TestVerifyCommandRejectsMissingFlags(t *testing.T) {
	cli := NewLedgerCLI(stubVerifier{}, nil)
	stderr := new(bytes.Buffer)
	code := cli.VerifyCommand(context.Background(), VerifyOptions{VariantID: 1, OutputOptions: OutputOptions{Stdout: new(bytes.Buffer), Stderr: stderr}})
	require.Equal(t, ExitError, code)
	require.Contains(t, stderr.String(), "--warehouse")
}

func TestReconcileCommand(t *testing.T) {
	out := OutputOptions{Stdout: new(bytes.Buffer), Stderr: new(bytes.Buffer)}
	clean := NewLedgerCLI(nil, stubReconciler{report: ledger.ReconcileReport{Checked: 12}})
	require.Equal(t, ExitOK, clean.ReconcileCommand(context.Background(), ReconcileOptions{OutputOptions: out}))
	require.Contains(t, out.Stdout.(*bytes.Buffer).String(), "Checked 12 stock row(s), 0 mismatch(es).")

	dirty := NewLedgerCLI(nil, stubReconciler{report: ledger.ReconcileReport{
		Checked:    2,
		Mismatches: []ledger.Reconciliation{{VariantID: 3, WarehouseID: 4, Quantity: 1}},
	}})
	require.Equal(t, ExitMismatch, dirty.ReconcileCommand(context.Background(), ReconcileOptions{OutputOptions: out}))

	failing := NewLedgerCLI(nil, stubReconciler{err: errors.New("lock held")})
	require.Equal(t, ExitError, failing.ReconcileCommand(context.Background(), ReconcileOptions{OutputOptions: out}))
}

type stubEnqueuer struct {
	types []string
}

func (s *stubEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.types = append(s.types, task.Type())
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (s *stubEnqueuer) Close() error { return nil }

type stubInspector struct{}

func (stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: queue, Pending: 2, Archived: 1}, nil
}

func (stubInspector) Close() error { return nil }

func TestJobsCLITriggerAndInspect(t *testing.T) {
	enq := &stubEnqueuer{}
	c := &JobsCLI{client: enq, inspector: stubInspector{}}

	_, err := c.Trigger(context.Background(), jobs.TaskLedgerReconcile, 100)
	require.NoError(t, err)
	_, err = c.Trigger(context.Background(), jobs.TaskCacheInvalidate, 0)
	require.NoError(t, err)
	_, err = c.Trigger(context.Background(), "mail:send", 0)
	require.Error(t, err)
	require.Equal(t, []string{jobs.TaskLedgerReconcile, jobs.TaskCacheInvalidate}, enq.types)

	stats, err := c.InspectQueue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.Pending)
	require.Equal(t, 1, stats.Archived)
	require.NoError(t, c.Close())
}
