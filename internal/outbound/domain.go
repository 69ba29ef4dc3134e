// Package outbound ships stock out of a warehouse: outbound orders, the
// batches that debit the ledger and their logistics tracking.
package outbound

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/goodsflow/internal/ledger"
	"github.com/odyssey-erp/goodsflow/internal/shared"
)

// OrderStatus is the outbound order lifecycle state.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPartial   OrderStatus = "partial"
	OrderShipped   OrderStatus = "shipped"
	OrderCancelled OrderStatus = "cancelled"
)

// ParseOrderStatus rejects unknown values.
func ParseOrderStatus(value string) (OrderStatus, error) {
	s := OrderStatus(value)
	switch s {
	case OrderPending, OrderPartial, OrderShipped, OrderCancelled:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown outbound order status %q", shared.ErrValidation, value)
}

// DeriveOrderStatus maps shipped against requested quantity.
func DeriveOrderStatus(current OrderStatus, shipped, qty int64) OrderStatus {
	switch {
	case current == OrderCancelled:
		return current
	case shipped >= qty:
		return OrderShipped
	case shipped > 0:
		return OrderPartial
	default:
		return OrderPending
	}
}

// BatchStatus is the physical state of an outbound batch.
type BatchStatus string

const (
	BatchPendingShip BatchStatus = "pending-ship"
	BatchShipped     BatchStatus = "shipped"
	BatchInTransit   BatchStatus = "in-transit"
	BatchCleared     BatchStatus = "cleared"
	BatchArrived     BatchStatus = "arrived"
	BatchCancelled   BatchStatus = "cancelled"
)

// batchSequence is the only order manual updates may follow.
var batchSequence = []BatchStatus{BatchPendingShip, BatchShipped, BatchInTransit, BatchCleared, BatchArrived}

// ParseBatchStatus rejects unknown values instead of defaulting them.
func ParseBatchStatus(value string) (BatchStatus, error) {
	s := BatchStatus(value)
	if s == BatchCancelled || s.rank() >= 0 {
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown outbound batch status %q", shared.ErrValidation, value)
}

// rank is the position in batchSequence, or -1.
func (s BatchStatus) rank() int {
	for i, st := range batchSequence {
		if st == s {
			return i
		}
	}
	return -1
}

// CanAdvance reports whether a manual update may move from s to next.
// Steps may be skipped; moving backwards or out of the sequence may not.
func (s BatchStatus) CanAdvance(next BatchStatus) bool {
	from, to := s.rank(), next.rank()
	return from >= 0 && to >= from
}

// Order is a request to ship qty of one variant.
type Order struct {
	ID                     int64       `json:"id"`
	Number                 string      `json:"number"`
	VariantID              int64       `json:"variant_id"`
	Qty                    int64       `json:"qty"`
	ShippedQty             int64       `json:"shipped_qty"`
	SourceWarehouseID      int64       `json:"source_warehouse_id"`
	DestinationWarehouseID int64       `json:"destination_warehouse_id,omitempty"`
	Destination            string      `json:"destination,omitempty"`
	SourceInboundBatchID   int64       `json:"source_inbound_batch_id,omitempty"`
	Status                 OrderStatus `json:"status"`
	Note                   string      `json:"note,omitempty"`
	CreatedBy              int64       `json:"created_by,omitempty"`
	CreatedAt              time.Time   `json:"created_at"`
	UpdatedAt              time.Time   `json:"updated_at"`
}

// Remaining is the quantity not yet covered by batches.
func (o Order) Remaining() int64 {
	return o.Qty - o.ShippedQty
}

// Logistics is the tracking metadata of a batch.
type Logistics struct {
	Carrier         string     `json:"carrier,omitempty"`
	Vessel          string     `json:"vessel,omitempty"`
	ETA             *time.Time `json:"eta,omitempty"`
	CurrentLocation string     `json:"current_location,omitempty"`
	LastEvent       string     `json:"last_event,omitempty"`
	LastEventAt     *time.Time `json:"last_event_at,omitempty"`
}

// Batch is one shipment against an order. ArrivalConfirmedAt is nil until
// the arrival has been credited at the destination.
type Batch struct {
	ID                 int64       `json:"id"`
	Number             string      `json:"number"`
	OrderID            int64       `json:"outbound_order_id"`
	WarehouseID        int64       `json:"warehouse_id"`
	VariantID          int64       `json:"variant_id"`
	Qty                int64       `json:"qty"`
	ShippedAt          time.Time   `json:"shipped_at"`
	Logistics          Logistics   `json:"logistics"`
	Status             BatchStatus `json:"status"`
	ArrivalConfirmedAt *time.Time  `json:"arrival_confirmed_at,omitempty"`
	ActualArrivalAt    *time.Time  `json:"actual_arrival_at,omitempty"`
	ArrivalWarehouseID int64       `json:"arrival_warehouse_id,omitempty"`
	CreatedBy          int64       `json:"created_by,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// CreateOrderInput is the payload for a manual outbound order.
type CreateOrderInput struct {
	Number                 string `json:"number" validate:"max=64"`
	VariantID              int64  `json:"variant_id" validate:"required,gt=0"`
	Qty                    int64  `json:"qty" validate:"required,gt=0"`
	SourceWarehouseID      int64  `json:"source_warehouse_id" validate:"required,gt=0"`
	DestinationWarehouseID int64  `json:"destination_warehouse_id" validate:"omitempty,gt=0,nefield=SourceWarehouseID"`
	Destination            string `json:"destination" validate:"max=200"`
	Note                   string `json:"note" validate:"max=500"`
}

// CreateBatchInput ships qty of an existing order. WarehouseID defaults to
// the order's source warehouse.
type CreateBatchInput struct {
	OrderID        int64     `json:"outbound_order_id" validate:"required,gt=0"`
	WarehouseID    int64     `json:"warehouse_id" validate:"omitempty,gt=0"`
	Qty            int64     `json:"qty" validate:"required,gt=0"`
	ShippedAt      time.Time `json:"shipped_at"`
	Logistics      Logistics `json:"logistics"`
	IdempotencyKey string    `json:"-"`
}

// FromInboundInput re-exports goods straight from an inbound batch.
type FromInboundInput struct {
	InboundBatchID         int64     `json:"inbound_batch_id" validate:"required,gt=0"`
	DestinationWarehouseID int64     `json:"destination_warehouse_id" validate:"required,gt=0"`
	Qty                    int64     `json:"qty" validate:"required,gt=0"`
	ShippedAt              time.Time `json:"shipped_at"`
	Logistics              Logistics `json:"logistics"`
	Note                   string    `json:"note" validate:"max=500"`
	IdempotencyKey         string    `json:"-"`
}

// LogisticsUpdate changes tracking fields. Nil fields are left untouched.
type LogisticsUpdate struct {
	Carrier         *string    `json:"carrier"`
	Vessel          *string    `json:"vessel"`
	ETA             *time.Time `json:"eta"`
	CurrentLocation *string    `json:"current_location"`
	LastEvent       *string    `json:"last_event"`
	LastEventAt     *time.Time `json:"last_event_at"`
	Status          *string    `json:"status"`
}

// BatchResult is the state after a batch is created or cancelled.
type BatchResult struct {
	Order   Order          `json:"order"`
	Batch   Batch          `json:"batch"`
	Posting ledger.Posting `json:"posting"`
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	Status    OrderStatus
	VariantID int64
	Page      shared.Page
}

var (
	// ErrOrderNotFound indicates the outbound order id does not exist.
	ErrOrderNotFound = fmt.Errorf("%w: outbound order", shared.ErrNotFound)
	// ErrBatchNotFound indicates the outbound batch id does not exist.
	ErrBatchNotFound = fmt.Errorf("%w: outbound batch", shared.ErrNotFound)
	// ErrOverShip indicates a batch above the order's remaining quantity.
	ErrOverShip = fmt.Errorf("%w: batch quantity exceeds order remaining quantity", shared.ErrValidation)
	// ErrOverExport indicates re-exports above the inbound batch quantity.
	ErrOverExport = fmt.Errorf("%w: re-exported quantity exceeds inbound batch quantity", shared.ErrValidation)
	// ErrDuplicateNumber indicates the order number is taken.
	ErrDuplicateNumber = fmt.Errorf("%w: outbound order number already exists", shared.ErrValidation)
	// ErrInvalidTransition indicates a forbidden status change.
	ErrInvalidTransition = fmt.Errorf("outbound: %w", shared.ErrInvalidTransition)
)
