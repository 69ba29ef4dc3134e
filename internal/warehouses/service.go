package warehouses

import (
	"context"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/goodsflow/internal/shared"
)

// Store is the persistence used by Service.
type Store interface {
	Reader
	ListWarehouses(ctx context.Context, filter ListFilter) ([]Warehouse, error)
	CreateWarehouse(ctx context.Context, wh Warehouse) (Warehouse, error)
	SetActive(ctx context.Context, id int64, active bool) (Warehouse, error)
}

// Service manages the warehouse directory.
type Service struct {
	store  Store
	audit  shared.AuditPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(store Store, audit shared.AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, audit: audit, logger: logger}
}

// Create registers a new active warehouse.
func (s *Service) Create(ctx context.Context, input CreateInput) (Warehouse, error) {
	if err := shared.RequireRole(ctx, shared.RoleElevated); err != nil {
		return Warehouse{}, err
	}
	input.Code = strings.ToUpper(strings.TrimSpace(input.Code))
	input.Name = strings.TrimSpace(input.Name)
	if err := shared.Validate(input); err != nil {
		return Warehouse{}, err
	}
	wh, err := s.store.CreateWarehouse(ctx, Warehouse{Code: input.Code, Name: input.Name, Type: input.Type, Active: true})
	if err != nil {
		return Warehouse{}, err
	}
	s.record(ctx, "warehouse.create", wh)
	return wh, nil
}

// Get returns one warehouse.
func (s *Service) Get(ctx context.Context, id int64) (Warehouse, error) {
	if err := shared.RequireRole(ctx, shared.RoleRead); err != nil {
		return Warehouse{}, err
	}
	return s.store.GetWarehouse(ctx, id)
}

// List returns warehouses matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Warehouse, error) {
	if err := shared.RequireRole(ctx, shared.RoleRead); err != nil {
		return nil, err
	}
	return s.store.ListWarehouses(ctx, filter)
}

// SetActive switches a warehouse on or off. Stock already held there is not
// touched; inactive warehouses only refuse new receipts and shipments.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) (Warehouse, error) {
	if err := shared.RequireRole(ctx, shared.RoleElevated); err != nil {
		return Warehouse{}, err
	}
	wh, err := s.store.SetActive(ctx, id, active)
	if err != nil {
		return Warehouse{}, err
	}
	s.record(ctx, "warehouse.set_active", wh)
	return wh, nil
}

func (s *Service) record(ctx context.Context, action string, wh Warehouse) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "warehouse",
		EntityID: wh.Code,
		Meta:     map[string]any{"id": wh.ID, "active": wh.Active},
	})
	if err != nil {
		s.logger.Warn("warehouse audit", slog.String("action", action), slog.Any("error", err))
	}
}
