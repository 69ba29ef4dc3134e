// Package memstore is an in-memory implementation of every repository port,
// used by service tests. A transaction holds the store lock for its whole
// duration and restores a snapshot when its callback fails, so tests observe
// the same all-or-nothing behaviour as the PostgreSQL repositories.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/odyssey-erp/goodsflow/internal/catalog"
	"github.com/odyssey-erp/goodsflow/internal/contracts"
	"github.com/odyssey-erp/goodsflow/internal/inbound"
	"github.com/odyssey-erp/goodsflow/internal/ledger"
	"github.com/odyssey-erp/goodsflow/internal/outbound"
	"github.com/odyssey-erp/goodsflow/internal/shared"
	"github.com/odyssey-erp/goodsflow/internal/warehouses"
)

type pair struct {
	variantID   int64
	warehouseID int64
}

type data struct {
	seq            int64
	warehouses     map[int64]warehouses.Warehouse
	variants       map[int64]catalog.Variant
	stock          map[pair]ledger.Stock
	movements      []ledger.Movement
	inventoryLogs  []ledger.InventoryLog
	contracts      map[int64]contracts.Contract
	items          map[int64]contracts.Item
	deliveryOrders map[int64]inbound.DeliveryOrder
	pending        map[int64]inbound.PendingInbound
	inboundBatches map[int64]inbound.InboundBatch
	orders         map[int64]outbound.Order
	batches        map[int64]outbound.Batch
	keys           map[string]struct{}
}

func newData() data {
	return data{
		warehouses:     map[int64]warehouses.Warehouse{},
		variants:       map[int64]catalog.Variant{},
		stock:          map[pair]ledger.Stock{},
		contracts:      map[int64]contracts.Contract{},
		items:          map[int64]contracts.Item{},
		deliveryOrders: map[int64]inbound.DeliveryOrder{},
		pending:        map[int64]inbound.PendingInbound{},
		inboundBatches: map[int64]inbound.InboundBatch{},
		orders:         map[int64]outbound.Order{},
		batches:        map[int64]outbound.Batch{},
		keys:           map[string]struct{}{},
	}
}

func (d data) clone() data {
	return data{
		seq:            d.seq,
		warehouses:     maps.Clone(d.warehouses),
		variants:       maps.Clone(d.variants),
		stock:          maps.Clone(d.stock),
		movements:      slices.Clone(d.movements),
		inventoryLogs:  slices.Clone(d.inventoryLogs),
		contracts:      maps.Clone(d.contracts),
		items:          maps.Clone(d.items),
		deliveryOrders: maps.Clone(d.deliveryOrders),
		pending:        maps.Clone(d.pending),
		inboundBatches: maps.Clone(d.inboundBatches),
		orders:         maps.Clone(d.orders),
		batches:        maps.Clone(d.batches),
		keys:           maps.Clone(d.keys),
	}
}

func (d *data) nextID() int64 {
	d.seq++
	return d.seq
}

// Store holds all rows.
type Store struct {
	mu       sync.Mutex
	d        data
	failures map[string]error

	auditMu sync.Mutex
	audits  []shared.AuditLog
}

// New returns an empty store.
func New() *Store {
	return &Store{d: newData(), failures: map[string]error{}}
}

// FailOn makes the next transactional call of the named method return err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = err
}

func (s *Store) withTx(ctx context.Context, fn func(context.Context, *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.d.clone()
	if err := fn(ctx, &Tx{s: s}); err != nil {
		s.d = snapshot
		return err
	}
	return nil
}

func (s *Store) read(fn func(d *data)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.d)
}

// AddWarehouse seeds a warehouse.
func (s *Store) AddWarehouse(code string, typ warehouses.Type, active bool) warehouses.Warehouse {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	wh := warehouses.Warehouse{ID: s.d.nextID(), Code: code, Name: code, Type: typ, Active: active, CreatedAt: now, UpdatedAt: now}
	s.d.warehouses[wh.ID] = wh
	return wh
}

// AddVariant seeds a product variant.
func (s *Store) AddVariant(sku string) catalog.Variant {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := catalog.Variant{ID: s.d.nextID(), SKU: catalog.NormalizeSKU(sku), ProductID: 1, Name: sku, CreatedAt: time.Now().UTC()}
	s.d.variants[v.ID] = v
	return v
}

// StockOf returns the stock row of a pair, zero when absent.
func (s *Store) StockOf(variantID, warehouseID int64) ledger.Stock {
	var st ledger.Stock
	s.read(func(d *data) { st = d.stock[pair{variantID, warehouseID}] })
	return st
}

// MovementsOf returns the movement log of a pair in sequence order.
func (s *Store) MovementsOf(variantID, warehouseID int64) []ledger.Movement {
	var out []ledger.Movement
	s.read(func(d *data) { out = movementsFor(d, variantID, warehouseID) })
	return out
}

// InventoryLogs returns every inventory log entry in insertion order.
func (s *Store) InventoryLogs() []ledger.InventoryLog {
	var out []ledger.InventoryLog
	s.read(func(d *data) { out = slices.Clone(d.inventoryLogs) })
	return out
}

// Audits returns recorded audit entries.
func (s *Store) Audits() []shared.AuditLog {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	return slices.Clone(s.audits)
}

// Record implements shared.AuditPort.
func (s *Store) Record(ctx context.Context, log shared.AuditLog) error {
	if log.ActorID == 0 {
		log.ActorID = shared.ActorID(ctx)
	}
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	s.audits = append(s.audits, log)
	return nil
}

// HasIdempotencyKey reports whether key was committed for module.
func (s *Store) HasIdempotencyKey(module, key string) bool {
	var ok bool
	s.read(func(d *data) { _, ok = d.keys[module+":"+key] })
	return ok
}

func movementsFor(d *data, variantID, warehouseID int64) []ledger.Movement {
	out := []ledger.Movement{}
	for _, mv := range d.movements {
		if mv.VariantID == variantID && mv.WarehouseID == warehouseID {
			out = append(out, mv)
		}
	}
	slices.SortFunc(out, func(a, b ledger.Movement) int { return int(a.Sequence - b.Sequence) })
	return out
}

func page[T any](rows []T, p shared.Page) []T {
	if p.Offset >= len(rows) {
		return []T{}
	}
	rows = rows[p.Offset:]
	if p.Limit > 0 && len(rows) > p.Limit {
		rows = rows[:p.Limit]
	}
	return rows
}

func sortedByID[K comparable, V any](m map[K]V, id func(V) int64, desc bool) []V {
	out := slices.Collect(maps.Values(m))
	slices.SortFunc(out, func(a, b V) int {
		if desc {
			return int(id(b) - id(a))
		}
		return int(id(a) - id(b))
	})
	return out
}

// ============================================================================
// Directory and catalog (non transactional)
// ============================================================================

// GetWarehouse implements warehouses.Reader.
func (s *Store) GetWarehouse(_ context.Context, id int64) (warehouses.Warehouse, error) {
	var (
		wh warehouses.Warehouse
		ok bool
	)
	s.read(func(d *data) { wh, ok = d.warehouses[id] })
	if !ok {
		return warehouses.Warehouse{}, fmt.Errorf("%w (id %d)", warehouses.ErrNotFound, id)
	}
	return wh, nil
}

// ListWarehouses implements warehouses.Store.
func (s *Store) ListWarehouses(_ context.Context, filter warehouses.ListFilter) ([]warehouses.Warehouse, error) {
	out := []warehouses.Warehouse{}
	s.read(func(d *data) {
		for _, wh := range d.warehouses {
			if filter.ActiveOnly && !wh.Active {
				continue
			}
			if filter.Type != "" && wh.Type != filter.Type {
				continue
			}
			out = append(out, wh)
		}
	})
	slices.SortFunc(out, func(a, b warehouses.Warehouse) int { return strings.Compare(a.Code, b.Code) })
	return out, nil
}

// CreateWarehouse implements warehouses.Store.
func (s *Store) CreateWarehouse(_ context.Context, wh warehouses.Warehouse) (warehouses.Warehouse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.d.warehouses {
		if existing.Code == wh.Code {
			return warehouses.Warehouse{}, fmt.Errorf("%w: %s", warehouses.ErrDuplicateCode, wh.Code)
		}
	}
	now := time.Now().UTC()
	wh.ID, wh.CreatedAt, wh.UpdatedAt = s.d.nextID(), now, now
	s.d.warehouses[wh.ID] = wh
	return wh, nil
}

// SetActive implements warehouses.Store.
func (s *Store) SetActive(_ context.Context, id int64, active bool) (warehouses.Warehouse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wh, ok := s.d.warehouses[id]
	if !ok {
		return warehouses.Warehouse{}, fmt.Errorf("%w (id %d)", warehouses.ErrNotFound, id)
	}
	wh.Active = active
	wh.UpdatedAt = time.Now().UTC()
	s.d.warehouses[id] = wh
	return wh, nil
}

// GetVariant implements catalog.Reader.
func (s *Store) GetVariant(_ context.Context, id int64) (catalog.Variant, error) {
	var (
		v  catalog.Variant
		ok bool
	)
	s.read(func(d *data) { v, ok = d.variants[id] })
	if !ok {
		return catalog.Variant{}, fmt.Errorf("%w (id %d)", catalog.ErrVariantNotFound, id)
	}
	return v, nil
}

// FindVariantBySKU implements catalog.Reader.
func (s *Store) FindVariantBySKU(_ context.Context, sku string) (catalog.Variant, error) {
	var (
		v     catalog.Variant
		found bool
	)
	s.read(func(d *data) { v, found = findSKU(d, sku) })
	if !found {
		return catalog.Variant{}, fmt.Errorf("%w (sku %s)", catalog.ErrVariantNotFound, sku)
	}
	return v, nil
}

// CreateVariant implements catalog.Store.
func (s *Store) CreateVariant(_ context.Context, v catalog.Variant) (catalog.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.SKU = catalog.NormalizeSKU(v.SKU)
	if _, dup := findSKU(&s.d, v.SKU); dup {
		return catalog.Variant{}, fmt.Errorf("%w: %s", catalog.ErrDuplicateSKU, v.SKU)
	}
	v.ID, v.CreatedAt = s.d.nextID(), time.Now().UTC()
	s.d.variants[v.ID] = v
	return v, nil
}

func findSKU(d *data, sku string) (catalog.Variant, bool) {
	sku = catalog.NormalizeSKU(sku)
	for _, v := range d.variants {
		if v.SKU == sku {
			return v, true
		}
	}
	return catalog.Variant{}, false
}
