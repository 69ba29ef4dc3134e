// Package contracts tracks supply contracts and how much of each line has been
// drawn down by delivery orders.
package contracts

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/goodsflow/internal/shared"
)

// Status is the contract lifecycle state.
type Status string

const (
	StatusPendingApproval Status = "pending-approval"
	StatusPendingShipment Status = "pending-shipment"
	StatusPartialShipment Status = "partial-shipment"
	StatusShipped         Status = "shipped"
	StatusSettled         Status = "settled"
	StatusCancelled       Status = "cancelled"
)

// transitions lists every allowed move. The shipped/partial to earlier states
// edges exist only for pickups released by delivery order cancellation.
var transitions = map[Status][]Status{
	StatusPendingApproval: {StatusPendingShipment, StatusCancelled},
	StatusPendingShipment: {StatusPartialShipment, StatusShipped, StatusCancelled},
	StatusPartialShipment: {StatusShipped, StatusPendingShipment, StatusCancelled},
	StatusShipped:         {StatusSettled, StatusPartialShipment, StatusPendingShipment, StatusCancelled},
}

// ParseStatus maps a raw value to Status. Unknown values are rejected.
func ParseStatus(value string) (Status, error) {
	s := Status(value)
	switch s {
	case StatusPendingApproval, StatusPendingShipment, StatusPartialShipment, StatusShipped, StatusSettled, StatusCancelled:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown contract status %q", shared.ErrValidation, value)
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusSettled || s == StatusCancelled
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// acceptsPickups reports whether picked quantities may change in s.
func (s Status) acceptsPickups() bool {
	return s == StatusPendingShipment || s == StatusPartialShipment || s == StatusShipped
}

// DeriveStatus is the pickup status mapping: nothing picked is
// pending-shipment, everything picked is shipped, anything between is
// partial-shipment. States outside the pickup phase are returned unchanged.
func DeriveStatus(current Status, picked, ordered int64) Status {
	if !current.acceptsPickups() {
		return current
	}
	switch {
	case picked <= 0:
		return StatusPendingShipment
	case picked >= ordered:
		return StatusShipped
	default:
		return StatusPartialShipment
	}
}

// Item is one contract line. VariantID is zero for legacy lines that only
// carry a sku.
type Item struct {
	ID          int64           `json:"id"`
	ContractID  int64           `json:"contract_id"`
	LineNo      int             `json:"line_no"`
	VariantID   int64           `json:"variant_id,omitempty"`
	SKU         string          `json:"sku,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	OrderedQty  int64           `json:"ordered_qty"`
	PickedQty   int64           `json:"picked_qty"`
	FinishedQty int64           `json:"finished_qty"`
}

// Remaining is the quantity still available for pickup.
func (i Item) Remaining() int64 {
	return i.OrderedQty - i.PickedQty
}

// Amount is unit price times ordered quantity.
func (i Item) Amount() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(i.OrderedQty))
}

// Contract is a supply agreement with its lines.
type Contract struct {
	ID            int64           `json:"id"`
	Number        string          `json:"number"`
	Counterparty  string          `json:"counterparty"`
	Currency      string          `json:"currency"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	DepositRate   decimal.Decimal `json:"deposit_rate"`
	DepositAmount decimal.Decimal `json:"deposit_amount"`
	Status        Status          `json:"status"`
	Note          string          `json:"note,omitempty"`
	SignedAt      *time.Time      `json:"signed_at,omitempty"`
	CreatedBy     int64           `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Items         []Item          `json:"items"`
}

// TotalOrdered sums ordered quantity across items.
func (c Contract) TotalOrdered() int64 {
	var total int64
	for _, it := range c.Items {
		total += it.OrderedQty
	}
	return total
}

// TotalPicked sums picked quantity across items.
func (c Contract) TotalPicked() int64 {
	var total int64
	for _, it := range c.Items {
		total += it.PickedQty
	}
	return total
}

// TotalFinished sums finished quantity across items.
func (c Contract) TotalFinished() int64 {
	var total int64
	for _, it := range c.Items {
		total += it.FinishedQty
	}
	return total
}

// Remaining is ordered minus picked over all items.
func (c Contract) Remaining() int64 {
	return c.TotalOrdered() - c.TotalPicked()
}

// Item returns the line with the given id.
func (c Contract) Item(id int64) (Item, bool) {
	for _, it := range c.Items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// Allocation draws qty from one contract item.
type Allocation struct {
	ItemID int64 `json:"item_id" validate:"required,gt=0"`
	Qty    int64 `json:"qty" validate:"required,gt=0"`
}

// ItemInput describes one line of a new contract.
type ItemInput struct {
	VariantID int64           `json:"variant_id" validate:"omitempty,gt=0"`
	SKU       string          `json:"sku" validate:"required_without=VariantID,max=64"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Qty       int64           `json:"qty" validate:"required,gt=0"`
}

// CreateInput is the payload for CreateContract.
type CreateInput struct {
	Number       string          `json:"number" validate:"max=64"`
	Counterparty string          `json:"counterparty" validate:"required,max=200"`
	Currency     string          `json:"currency" validate:"omitempty,len=3"`
	DepositRate  decimal.Decimal `json:"deposit_rate"`
	Note         string          `json:"note" validate:"max=1000"`
	SignedAt     *time.Time      `json:"signed_at"`
	Items        []ItemInput     `json:"items" validate:"required,min=1,dive"`
}

// Decision is the outcome of an approval.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// DecisionInput is the payload for Approve.
type DecisionInput struct {
	Decision Decision `json:"decision" validate:"required,oneof=approve reject"`
	Note     string   `json:"note" validate:"max=500"`
}

// ListFilter narrows contract listings.
type ListFilter struct {
	Status Status
	Page   shared.Page
}

var (
	// ErrContractNotFound indicates the contract id does not exist.
	ErrContractNotFound = fmt.Errorf("%w: contract", shared.ErrNotFound)
	// ErrItemNotFound indicates the item does not belong to the contract.
	ErrItemNotFound = fmt.Errorf("%w: contract item", shared.ErrNotFound)
	// ErrOverPick indicates an allocation above the item's remaining quantity.
	ErrOverPick = fmt.Errorf("%w: picked quantity would exceed ordered quantity", shared.ErrValidation)
	// ErrDuplicateNumber indicates the contract number is already taken.
	ErrDuplicateNumber = fmt.Errorf("%w: contract number already exists", shared.ErrValidation)
	// ErrInvalidTransition indicates the contract status forbids the operation.
	ErrInvalidTransition = fmt.Errorf("contracts: %w", shared.ErrInvalidTransition)
)
