// Package inbound turns contract pickups into received stock: delivery
// orders, their pending inbound expectation and the inbound batches that
// credit the ledger.
package inbound

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/goodsflow/internal/contracts"
	"github.com/odyssey-erp/goodsflow/internal/ledger"
	"github.com/odyssey-erp/goodsflow/internal/shared"
)

// DeliveryStatus is the delivery order lifecycle state.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryShipped   DeliveryStatus = "shipped"
	DeliveryInTransit DeliveryStatus = "in-transit"
	DeliveryReceived  DeliveryStatus = "received"
	DeliveryCancelled DeliveryStatus = "cancelled"
)

var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryPending:   {DeliveryShipped, DeliveryInTransit, DeliveryReceived, DeliveryCancelled},
	DeliveryShipped:   {DeliveryInTransit, DeliveryReceived, DeliveryCancelled},
	DeliveryInTransit: {DeliveryReceived, DeliveryCancelled},
}

// ParseDeliveryStatus rejects unknown values instead of defaulting them.
func ParseDeliveryStatus(value string) (DeliveryStatus, error) {
	s := DeliveryStatus(value)
	switch s {
	case DeliveryPending, DeliveryShipped, DeliveryInTransit, DeliveryReceived, DeliveryCancelled:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown delivery order status %q", shared.ErrValidation, value)
}

// IsTerminal reports whether the delivery order is closed.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryReceived || s == DeliveryCancelled
}

// CanTransition reports whether from -> to is allowed.
func (s DeliveryStatus) CanTransition(to DeliveryStatus) bool {
	for _, next := range deliveryTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// PendingStatus is the receiving state of a pending inbound.
type PendingStatus string

const (
	PendingOpen      PendingStatus = "pending"
	PendingPartial   PendingStatus = "partial"
	PendingReceived  PendingStatus = "received"
	PendingCancelled PendingStatus = "cancelled"
)

// DerivePendingStatus maps received against requested quantity.
func DerivePendingStatus(current PendingStatus, received, qty int64) PendingStatus {
	switch {
	case current == PendingCancelled:
		return current
	case received >= qty:
		return PendingReceived
	case received > 0:
		return PendingPartial
	default:
		return current
	}
}

// DeliveryOrder is one pickup drawn from a contract item.
type DeliveryOrder struct {
	ID             int64          `json:"id"`
	Number         string         `json:"number"`
	ContractID     int64          `json:"contract_id"`
	ContractItemID int64          `json:"contract_item_id"`
	Qty            int64          `json:"qty"`
	Status         DeliveryStatus `json:"status"`
	ExpectedAt     *time.Time     `json:"expected_at,omitempty"`
	Note           string         `json:"note,omitempty"`
	CreatedBy      int64          `json:"created_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// PendingInbound is the receiving expectation of one delivery order.
// VariantID is zero until resolved.
type PendingInbound struct {
	ID              int64         `json:"id"`
	DeliveryOrderID int64         `json:"delivery_order_id"`
	VariantID       int64         `json:"variant_id,omitempty"`
	SKU             string        `json:"sku,omitempty"`
	Qty             int64         `json:"qty"`
	ReceivedQty     int64         `json:"received_qty"`
	Status          PendingStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Remaining is the quantity still expected.
func (p PendingInbound) Remaining() int64 {
	return p.Qty - p.ReceivedQty
}

// InboundBatch is one physical receipt. Immutable once created.
type InboundBatch struct {
	ID               int64     `json:"id"`
	Number           string    `json:"number"`
	PendingInboundID int64     `json:"pending_inbound_id"`
	WarehouseID      int64     `json:"warehouse_id"`
	VariantID        int64     `json:"variant_id"`
	Qty              int64     `json:"qty"`
	ReceivedAt       time.Time `json:"received_at"`
	Note             string    `json:"note,omitempty"`
	CreatedBy        int64     `json:"created_by,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// CreateDeliveryOrderInput draws qty from a contract. ContractItemID may be
// zero, in which case the first item with enough remaining quantity is used.
type CreateDeliveryOrderInput struct {
	ContractID     int64      `json:"contract_id" validate:"required,gt=0"`
	ContractItemID int64      `json:"contract_item_id" validate:"omitempty,gt=0"`
	Qty            int64      `json:"qty" validate:"required,gt=0"`
	Number         string     `json:"number" validate:"max=64"`
	ExpectedAt     *time.Time `json:"expected_at"`
	Note           string     `json:"note" validate:"max=500"`
}

// DeliveryOrderResult is the state after CreateDeliveryOrder.
type DeliveryOrderResult struct {
	DeliveryOrder  DeliveryOrder      `json:"delivery_order"`
	PendingInbound PendingInbound     `json:"pending_inbound"`
	Contract       contracts.Contract `json:"contract"`
}

// RegisterBatchInput records a physical receipt against a pending inbound.
type RegisterBatchInput struct {
	PendingInboundID int64     `json:"pending_inbound_id" validate:"required,gt=0"`
	WarehouseID      int64     `json:"warehouse_id" validate:"required,gt=0"`
	Qty              int64     `json:"qty" validate:"required,gt=0"`
	ReceivedAt       time.Time `json:"received_at"`
	Note             string    `json:"note" validate:"max=500"`
	IdempotencyKey   string    `json:"-"`
}

// BatchResult is the state after RegisterInboundBatch.
type BatchResult struct {
	Batch          InboundBatch   `json:"batch"`
	PendingInbound PendingInbound `json:"pending_inbound"`
	DeliveryOrder  DeliveryOrder  `json:"delivery_order"`
	Posting        ledger.Posting `json:"posting"`
}

// DeliveryOrderFilter narrows delivery order listings.
type DeliveryOrderFilter struct {
	ContractID int64
	Status     DeliveryStatus
	Page       shared.Page
}

// BatchFilter narrows inbound batch listings.
type BatchFilter struct {
	PendingInboundID int64
	WarehouseID      int64
	Page             shared.Page
}

var (
	// ErrDeliveryOrderNotFound indicates the delivery order id does not exist.
	ErrDeliveryOrderNotFound = fmt.Errorf("%w: delivery order", shared.ErrNotFound)
	// ErrPendingInboundNotFound indicates the pending inbound id does not exist.
	ErrPendingInboundNotFound = fmt.Errorf("%w: pending inbound", shared.ErrNotFound)
	// ErrBatchNotFound indicates the inbound batch id does not exist.
	ErrBatchNotFound = fmt.Errorf("%w: inbound batch", shared.ErrNotFound)
	// ErrClosed indicates the delivery order no longer accepts receipts.
	ErrClosed = fmt.Errorf("%w: delivery order is closed", shared.ErrInvalidTransition)
	// ErrOverReceipt indicates a batch larger than the remaining expectation.
	ErrOverReceipt = fmt.Errorf("%w: received quantity would exceed requested quantity", shared.ErrValidation)
	// ErrDuplicateNumber indicates the delivery order number is taken.
	ErrDuplicateNumber = fmt.Errorf("%w: delivery order number already exists", shared.ErrValidation)
	// ErrInvalidTransition indicates a forbidden status change.
	ErrInvalidTransition = fmt.Errorf("inbound: %w", shared.ErrInvalidTransition)
)
