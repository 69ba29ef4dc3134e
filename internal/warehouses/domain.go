// Package warehouses is the directory of physical and logical stock locations.
package warehouses

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/goodsflow/internal/shared"
)

// Type classifies a warehouse.
type Type string

const (
	TypeFactory  Type = "factory"
	TypeDomestic Type = "domestic"
	TypeTransit  Type = "transit"
	TypeOverseas Type = "overseas"
)

// IsValid reports whether t is a known warehouse type.
func (t Type) IsValid() bool {
	switch t {
	case TypeFactory, TypeDomestic, TypeTransit, TypeOverseas:
		return true
	default:
		return false
	}
}

// Warehouse is reference data. Only Active and the descriptive fields change
// once stock rows point at it.
type Warehouse struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Type      Type      `json:"type"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	// ErrNotFound indicates the warehouse id does not exist.
	ErrNotFound = fmt.Errorf("%w: warehouse", shared.ErrNotFound)
	// ErrInactive indicates the warehouse exists but is switched off.
	ErrInactive = fmt.Errorf("%w: warehouse is inactive", shared.ErrValidation)
	// ErrDuplicateCode indicates the code is already taken.
	ErrDuplicateCode = fmt.Errorf("%w: warehouse code already exists", shared.ErrValidation)
)

// Reader looks up warehouses. Pipelines use it inside their transaction.
type Reader interface {
	GetWarehouse(ctx context.Context, id int64) (Warehouse, error)
}

// RequireActive loads a warehouse and rejects inactive ones.
func RequireActive(ctx context.Context, r Reader, id int64) (Warehouse, error) {
	if id <= 0 {
		return Warehouse{}, fmt.Errorf("%w: warehouse id required", shared.ErrValidation)
	}
	wh, err := r.GetWarehouse(ctx, id)
	if err != nil {
		return Warehouse{}, err
	}
	if !wh.Active {
		return Warehouse{}, fmt.Errorf("%w (id %d)", ErrInactive, id)
	}
	return wh, nil
}

// CreateInput is the payload for registering a warehouse.
type CreateInput struct {
	Code string `json:"code" validate:"required,max=32"`
	Name string `json:"name" validate:"required,max=200"`
	Type Type   `json:"type" validate:"required,oneof=factory domestic transit overseas"`
}

// ListFilter narrows warehouse listings.
type ListFilter struct {
	ActiveOnly bool
	Type       Type
}
