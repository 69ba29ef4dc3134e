package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/odyssey-erp/goodsflow/internal/ledger"
)

// Exit codes shared by the ledger commands.
const (
	ExitOK       = 0
	ExitError    = 1
	ExitMismatch = 10
)

// Verifier is implemented by *ledger.Service.
type Verifier interface {
	Verify(ctx context.Context, variantID, warehouseID int64) (ledger.Reconciliation, error)
}

// Reconciler is implemented by *jobs.ReconcileJob.
type Reconciler interface {
	Run(ctx context.Context, pageSize int) (ledger.ReconcileReport, error)
}

// LedgerCLI runs replay checks against the movement log.
type LedgerCLI struct {
	verifier   Verifier
	reconciler Reconciler
}

// NewLedgerCLI wires the ledger commands.
func NewLedgerCLI(verifier Verifier, reconciler Reconciler) *LedgerCLI {
	return &LedgerCLI{verifier: verifier, reconciler: reconciler}
}

// OutputOptions selects where and how results are printed.
type OutputOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

func (o *OutputOptions) defaults() {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
}

// VerifyOptions defines the flags of ledger verify.
type VerifyOptions struct {
	VariantID   int64
	WarehouseID int64
	OutputOptions
}

// VerifyCommand replays one pair and returns ExitMismatch when the stock row
// disagrees with its log.
func (c *LedgerCLI) VerifyCommand(ctx context.Context, opts VerifyOptions) int {
	opts.defaults()
	if opts.VariantID <= 0 || opts.WarehouseID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "ledger verify: --variant and --warehouse are required and must be positive")
		return ExitError
	}
	rec, err := c.verifier.Verify(ctx, opts.VariantID, opts.WarehouseID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "ledger verify: %v\n", err)
		return ExitError
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(verifySummary{OK: rec.OK(), Reconciliation: rec}); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "ledger verify: encode json: %v\n", err)
			return ExitError
		}
	} else {
		renderReconciliation(opts.Stdout, rec)
	}
	if !rec.OK() {
		return ExitMismatch
	}
	return ExitOK
}

type verifySummary struct {
	OK bool `json:"ok"`
	ledger.Reconciliation
}

// ReconcileOptions defines the flags of ledger reconcile.
type ReconcileOptions struct {
	PageSize int
	OutputOptions
}

// ReconcileCommand replays every stock row.
func (c *LedgerCLI) ReconcileCommand(ctx context.Context, opts ReconcileOptions) int {
	opts.defaults()
	report, err := c.reconciler.Run(ctx, opts.PageSize)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "ledger reconcile: %v\n", err)
		return ExitError
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(report); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "ledger reconcile: encode json: %v\n", err)
			return ExitError
		}
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "Checked %d stock row(s), %d mismatch(es).\n", report.Checked, len(report.Mismatches))
		for _, m := range report.Mismatches {
			renderReconciliation(opts.Stdout, m)
		}
	}
	if len(report.Mismatches) > 0 {
		return ExitMismatch
	}
	return ExitOK
}

func renderReconciliation(out io.Writer, rec ledger.Reconciliation) {
	state := "OK"
	if !rec.OK() {
		state = "MISMATCH"
	}
	_, _ = fmt.Fprintf(out, "variant %d @ warehouse %d: %s (stock %d, replayed %d, %d entries)\n",
		rec.VariantID, rec.WarehouseID, state, rec.Quantity, rec.Replayed, rec.Entries)
	for _, b := range rec.Breaks {
		_, _ = fmt.Fprintf(out, "  seq %d: %s\n", b.Sequence, b.Problem)
	}
}
