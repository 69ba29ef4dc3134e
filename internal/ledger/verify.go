package ledger

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/goodsflow/internal/shared"
)

// ChainBreak describes one place where the movement log does not chain.
type ChainBreak struct {
	Sequence int64  `json:"sequence"`
	Problem  string `json:"problem"`
}

// Reconciliation compares a stock row against its replayed movement log.
type Reconciliation struct {
	VariantID   int64        `json:"variant_id"`
	WarehouseID int64        `json:"warehouse_id"`
	Quantity    int64        `json:"quantity"`
	Replayed    int64        `json:"replayed"`
	Entries     int          `json:"entries"`
	Breaks      []ChainBreak `json:"breaks,omitempty"`
}

// OK reports whether the row and its log agree.
func (r Reconciliation) OK() bool {
	return len(r.Breaks) == 0 && r.Quantity == r.Replayed
}

// Replay sums movement deltas from zero in sequence order and reports every
// entry whose before/after values do not chain onto the previous one.
func Replay(movements []Movement) (int64, []ChainBreak) {
	var (
		qty    int64
		breaks []ChainBreak
		prev   int64
	)
	for i, mv := range movements {
		if i > 0 && mv.Sequence <= prev {
			breaks = append(breaks, ChainBreak{Sequence: mv.Sequence, Problem: fmt.Sprintf("sequence %d not after %d", mv.Sequence, prev)})
		}
		if mv.QtyBefore != qty {
			breaks = append(breaks, ChainBreak{Sequence: mv.Sequence, Problem: fmt.Sprintf("qty_before %d, expected %d", mv.QtyBefore, qty)})
		}
		if mv.QtyAfter != mv.QtyBefore+mv.Delta {
			breaks = append(breaks, ChainBreak{Sequence: mv.Sequence, Problem: fmt.Sprintf("qty_after %d != %d%+d", mv.QtyAfter, mv.QtyBefore, mv.Delta)})
		}
		qty += mv.Delta
		prev = mv.Sequence
	}
	return qty, breaks
}

// Verify replays the movement log of one pair against its stock row.
func (s *Service) Verify(ctx context.Context, variantID, warehouseID int64) (Reconciliation, error) {
	if err := shared.RequireRole(ctx, shared.RoleRead); err != nil {
		return Reconciliation{}, err
	}
	return s.verifyPair(ctx, variantID, warehouseID)
}

func (s *Service) verifyPair(ctx context.Context, variantID, warehouseID int64) (Reconciliation, error) {
	stock, movements, err := s.repo.PairSnapshot(ctx, variantID, warehouseID)
	if err != nil {
		return Reconciliation{}, err
	}
	replayed, breaks := Replay(movements)
	if err := stock.Check(); err != nil {
		breaks = append(breaks, ChainBreak{Sequence: stock.Version, Problem: err.Error()})
	}
	if n := len(movements); n > 0 && movements[n-1].Sequence != stock.Version {
		breaks = append(breaks, ChainBreak{Sequence: stock.Version, Problem: fmt.Sprintf("stock version %d, last movement %d", stock.Version, movements[n-1].Sequence)})
	}
	return Reconciliation{
		VariantID:   variantID,
		WarehouseID: warehouseID,
		Quantity:    stock.Quantity,
		Replayed:    replayed,
		Entries:     len(movements),
		Breaks:      breaks,
	}, nil
}

// ReconcileReport summarises a full ledger pass.
type ReconcileReport struct {
	Checked    int              `json:"checked"`
	Mismatches []Reconciliation `json:"mismatches,omitempty"`
}

// Reconcile verifies every stock row page by page, walking rows in key order.
// It is read-only; fixing a mismatch is an operator decision made through
// Adjust.
func (s *Service) Reconcile(ctx context.Context, pageSize int) (ReconcileReport, error) {
	limit := shared.Page{Limit: pageSize}.Normalize().Limit
	var (
		report ReconcileReport
		after  PairKey
	)
	for {
		rows, err := s.repo.StockPageAfter(ctx, after, limit)
		if err != nil {
			return report, err
		}
		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			rec, err := s.verifyPair(ctx, row.VariantID, row.WarehouseID)
			if err != nil {
				return report, err
			}
			report.Checked++
			if !rec.OK() {
				report.Mismatches = append(report.Mismatches, rec)
			}
			after = PairKey{VariantID: row.VariantID, WarehouseID: row.WarehouseID}
		}
		if len(rows) < limit {
			return report, nil
		}
	}
}
