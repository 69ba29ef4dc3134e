// Package ledger keeps the authoritative quantity on hand per (variant,
// warehouse) and the append-only movement log explaining every change.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/goodsflow/internal/shared"
)

// ============================================================================
// REASONS AND REFERENCES
// ============================================================================

// Reason explains why a stock quantity changed.
type Reason string

const (
	ReasonPurchaseInbound  Reason = "purchase-inbound"
	ReasonSaleOutbound     Reason = "sale-outbound"
	ReasonTransferInbound  Reason = "transfer-inbound"
	ReasonTransferOutbound Reason = "transfer-outbound"
	ReasonAdjustment       Reason = "adjustment"
)

// IsValid reports whether r is a known reason.
func (r Reason) IsValid() bool {
	switch r {
	case ReasonPurchaseInbound, ReasonSaleOutbound, ReasonTransferInbound, ReasonTransferOutbound, ReasonAdjustment:
		return true
	default:
		return false
	}
}

// Reference types recorded on movements and inventory logs.
const (
	RefInboundBatch  = "inbound_batch"
	RefOutboundBatch = "outbound_batch"
	RefAdjustment    = "adjustment"
	RefTransfer      = "transfer"
)

// RelatedOrder points a movement at the document that caused it.
type RelatedOrder struct {
	Type   string `json:"type"`
	ID     int64  `json:"id,omitempty"`
	Number string `json:"number,omitempty"`
}

// ============================================================================
// STOCK ROW
// ============================================================================

// Stock is the single source of truth for one (variant, warehouse) pair.
// Version increases by one with every mutation and numbers the movement log.
type Stock struct {
	VariantID   int64     `json:"variant_id"`
	WarehouseID int64     `json:"warehouse_id"`
	Quantity    int64     `json:"quantity"`
	Reserved    int64     `json:"reserved"`
	Available   int64     `json:"available"`
	Version     int64     `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Check verifies the row invariants.
func (s Stock) Check() error {
	switch {
	case s.Quantity < 0:
		return fmt.Errorf("%w: quantity %d below zero", ErrInvariant, s.Quantity)
	case s.Reserved < 0:
		return fmt.Errorf("%w: reserved %d below zero", ErrInvariant, s.Reserved)
	case s.Available < 0:
		return fmt.Errorf("%w: available %d below zero", ErrInvariant, s.Available)
	case s.Available != s.Quantity-s.Reserved:
		return fmt.Errorf("%w: available %d != quantity %d - reserved %d", ErrInvariant, s.Available, s.Quantity, s.Reserved)
	}
	return nil
}

// applyDelta returns the row after adding delta to quantity and available.
// A negative delta must fit both quantity and available.
func applyDelta(s Stock, delta int64) (Stock, error) {
	if delta == 0 {
		return Stock{}, ErrInvalidQuantity
	}
	if delta < 0 && (s.Quantity < -delta || s.Available < -delta) {
		return Stock{}, fmt.Errorf("%w: variant %d at warehouse %d has %d available, %d requested",
			ErrInsufficientStock, s.VariantID, s.WarehouseID, s.Available, -delta)
	}
	next := s
	next.Quantity += delta
	next.Available += delta
	next.Version++
	if err := next.Check(); err != nil {
		return Stock{}, err
	}
	return next, nil
}

// ============================================================================
// MOVEMENT LOG
// ============================================================================

// Movement is one immutable movement log entry. QtyAfter of entry n equals
// QtyBefore of entry n+1 for the same pair, ordered by Sequence.
type Movement struct {
	ID          int64        `json:"id"`
	VariantID   int64        `json:"variant_id"`
	WarehouseID int64        `json:"warehouse_id"`
	Sequence    int64        `json:"sequence"`
	Reason      Reason       `json:"reason"`
	Delta       int64        `json:"delta"`
	QtyBefore   int64        `json:"qty_before"`
	QtyAfter    int64        `json:"qty_after"`
	Ref         RelatedOrder `json:"ref"`
	ActorID     int64        `json:"actor_id,omitempty"`
	Note        string       `json:"note,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Posting is the result of one credit or debit.
type Posting struct {
	Stock    Stock    `json:"stock"`
	Movement Movement `json:"movement"`
}

// ============================================================================
// INVENTORY LOG
// ============================================================================

// InventoryLogType classifies goods-in-motion records.
type InventoryLogType string

const (
	LogTypeIn       InventoryLogType = "IN"
	LogTypeOut      InventoryLogType = "OUT"
	LogTypeTransfer InventoryLogType = "TRANSFER"
)

// InventoryLogStatus is the physical state the log entry records.
type InventoryLogStatus string

const (
	LogStatusReceived  InventoryLogStatus = "received"
	LogStatusInTransit InventoryLogStatus = "in-transit"
	LogStatusArrived   InventoryLogStatus = "arrived"
	LogStatusCancelled InventoryLogStatus = "cancelled"
)

// InventoryLog tracks goods between warehouses. Unlike Movement it is not
// tied to a stock row; it records where a shipment is.
type InventoryLog struct {
	ID              int64              `json:"id"`
	Type            InventoryLogType   `json:"type"`
	Status          InventoryLogStatus `json:"status"`
	VariantID       int64              `json:"variant_id"`
	FromWarehouseID int64              `json:"from_warehouse_id,omitempty"`
	ToWarehouseID   int64              `json:"to_warehouse_id,omitempty"`
	Qty             int64              `json:"qty"`
	Ref             RelatedOrder       `json:"ref"`
	CreatedAt       time.Time          `json:"created_at"`
}

// ============================================================================
// INPUTS AND FILTERS
// ============================================================================

// PostingInput describes a credit or debit.
type PostingInput struct {
	VariantID   int64  `validate:"required,gt=0"`
	WarehouseID int64  `validate:"required,gt=0"`
	Qty         int64  `validate:"required,gt=0"`
	Reason      Reason `validate:"required"`
	Ref         RelatedOrder
	Note        string
}

// AdjustmentInput corrects a stock row by a signed delta.
type AdjustmentInput struct {
	VariantID   int64  `json:"variant_id" validate:"required,gt=0"`
	WarehouseID int64  `json:"warehouse_id" validate:"required,gt=0"`
	Delta       int64  `json:"delta" validate:"required,ne=0"`
	Note        string `json:"note" validate:"required,max=500"`
}

// TransferInput moves stock directly between two warehouses.
type TransferInput struct {
	VariantID       int64  `json:"variant_id" validate:"required,gt=0"`
	FromWarehouseID int64  `json:"from_warehouse_id" validate:"required,gt=0"`
	ToWarehouseID   int64  `json:"to_warehouse_id" validate:"required,gt=0,nefield=FromWarehouseID"`
	Qty             int64  `json:"qty" validate:"required,gt=0"`
	Note            string `json:"note" validate:"max=500"`
}

// TransferResult holds both legs of a transfer.
type TransferResult struct {
	Out Posting `json:"out"`
	In  Posting `json:"in"`
}

// StockFilter narrows stock listings.
type StockFilter struct {
	VariantID   int64
	WarehouseID int64
	Page        shared.Page
}

// PairKey identifies one stock row. Reconcile walks stock rows in PairKey
// order.
type PairKey struct {
	VariantID   int64
	WarehouseID int64
}

// MovementFilter narrows movement log listings.
type MovementFilter struct {
	VariantID   int64
	WarehouseID int64
	Reason      Reason
	RefType     string
	RefID       int64
	Page        shared.Page
}

// InventoryLogFilter narrows inventory log listings.
type InventoryLogFilter struct {
	VariantID int64
	RefType   string
	RefID     int64
	Page      shared.Page
}

// ============================================================================
// ERRORS
// ============================================================================

var (
	// ErrInsufficientStock indicates a debit larger than the available quantity.
	ErrInsufficientStock = fmt.Errorf("ledger: %w", shared.ErrInsufficientStock)
	// ErrInvalidQuantity indicates a zero or negative quantity.
	ErrInvalidQuantity = fmt.Errorf("%w: ledger: quantity must be positive", shared.ErrValidation)
	// ErrStockNotFound indicates no stock row exists for the pair.
	ErrStockNotFound = fmt.Errorf("%w: stock row", shared.ErrNotFound)
	// ErrConcurrentUpdate indicates the stock row version moved under a write.
	ErrConcurrentUpdate = fmt.Errorf("%w: ledger: stock row changed concurrently", shared.ErrTransient)
	// ErrInvariant indicates a stock row that violates its own invariants.
	ErrInvariant = errors.New("ledger: stock invariant violated")
)
