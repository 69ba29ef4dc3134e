package memstore

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/odyssey-erp/goodsflow/internal/catalog"
	"github.com/odyssey-erp/goodsflow/internal/contracts"
	"github.com/odyssey-erp/goodsflow/internal/inbound"
	"github.com/odyssey-erp/goodsflow/internal/ledger"
	"github.com/odyssey-erp/goodsflow/internal/outbound"
	"github.com/odyssey-erp/goodsflow/internal/shared"
	"github.com/odyssey-erp/goodsflow/internal/warehouses"
)

// Tx implements the TxRepository of every package. It runs with the store
// lock held.
type Tx struct {
	s *Store
}

func (t *Tx) fail(method string) error {
	if err, ok := t.s.failures[method]; ok {
		delete(t.s.failures, method)
		return err
	}
	return nil
}

func (t *Tx) d() *data { return &t.s.d }

// Ledger implements the cross-package accessors.
func (t *Tx) Ledger() ledger.TxRepository { return t }

// Contracts returns the contract statements of this transaction.
func (t *Tx) Contracts() contracts.TxRepository { return t }

// Inbound returns the inbound statements of this transaction.
func (t *Tx) Inbound() inbound.TxRepository { return t }

// ClaimIdempotencyKey records key inside the transaction; a rollback drops it.
func (t *Tx) ClaimIdempotencyKey(_ context.Context, key, module string) error {
	if err := t.fail("ClaimIdempotencyKey"); err != nil {
		return err
	}
	scoped, err := shared.IdempotencyScope(module, key)
	if err != nil {
		return err
	}
	if _, ok := t.d().keys[scoped]; ok {
		return shared.ErrIdempotencyConflict
	}
	t.d().keys[scoped] = struct{}{}
	return nil
}

// Outbound returns the outbound statements of this transaction.
func (t *Tx) Outbound() outbound.TxRepository { return t }

// Warehouses returns a reader bound to this transaction.
func (t *Tx) Warehouses() warehouses.Reader { return txWarehouses{t} }

// Catalog returns a reader bound to this transaction.
func (t *Tx) Catalog() catalog.Reader { return txCatalog{t} }

type txWarehouses struct{ t *Tx }

func (r txWarehouses) GetWarehouse(_ context.Context, id int64) (warehouses.Warehouse, error) {
	wh, ok := r.t.d().warehouses[id]
	if !ok {
		return warehouses.Warehouse{}, fmt.Errorf("%w (id %d)", warehouses.ErrNotFound, id)
	}
	return wh, nil
}

type txCatalog struct{ t *Tx }

func (r txCatalog) GetVariant(_ context.Context, id int64) (catalog.Variant, error) {
	v, ok := r.t.d().variants[id]
	if !ok {
		return catalog.Variant{}, fmt.Errorf("%w (id %d)", catalog.ErrVariantNotFound, id)
	}
	return v, nil
}

func (r txCatalog) FindVariantBySKU(_ context.Context, sku string) (catalog.Variant, error) {
	v, ok := findSKU(r.t.d(), sku)
	if !ok {
		return catalog.Variant{}, fmt.Errorf("%w (sku %s)", catalog.ErrVariantNotFound, sku)
	}
	return v, nil
}

// ============================================================================
// ledger
// ============================================================================

func (t *Tx) GetStockForUpdate(_ context.Context, variantID, warehouseID int64) (ledger.Stock, error) {
	if err := t.fail("GetStockForUpdate"); err != nil {
		return ledger.Stock{}, err
	}
	st, ok := t.d().stock[pair{variantID, warehouseID}]
	if !ok {
		return ledger.Stock{VariantID: variantID, WarehouseID: warehouseID}, ledger.ErrStockNotFound
	}
	return st, nil
}

func (t *Tx) UpsertStock(_ context.Context, st ledger.Stock) error {
	if err := t.fail("UpsertStock"); err != nil {
		return err
	}
	key := pair{st.VariantID, st.WarehouseID}
	current, ok := t.d().stock[key]
	if (ok && current.Version != st.Version-1) || (!ok && st.Version != 1) {
		return fmt.Errorf("%w (variant %d, warehouse %d, version %d)", ledger.ErrConcurrentUpdate, st.VariantID, st.WarehouseID, st.Version)
	}
	if err := st.Check(); err != nil {
		return err
	}
	st.UpdatedAt = time.Now().UTC()
	t.d().stock[key] = st
	return nil
}

func (t *Tx) AppendMovement(_ context.Context, mv ledger.Movement) (ledger.Movement, error) {
	if err := t.fail("AppendMovement"); err != nil {
		return ledger.Movement{}, err
	}
	if _, ok := t.d().stock[pair{mv.VariantID, mv.WarehouseID}]; !ok {
		return ledger.Movement{}, fmt.Errorf("memstore: movement without stock row (%d, %d)", mv.VariantID, mv.WarehouseID)
	}
	for _, existing := range t.d().movements {
		if existing.VariantID == mv.VariantID && existing.WarehouseID == mv.WarehouseID && existing.Sequence == mv.Sequence {
			return ledger.Movement{}, fmt.Errorf("memstore: duplicate movement sequence %d", mv.Sequence)
		}
	}
	if mv.QtyAfter != mv.QtyBefore+mv.Delta {
		return ledger.Movement{}, fmt.Errorf("memstore: movement does not add up")
	}
	mv.ID = t.d().nextID()
	mv.CreatedAt = time.Now().UTC()
	t.d().movements = append(t.d().movements, mv)
	return mv, nil
}

func (t *Tx) AppendInventoryLog(_ context.Context, log ledger.InventoryLog) (ledger.InventoryLog, error) {
	if err := t.fail("AppendInventoryLog"); err != nil {
		return ledger.InventoryLog{}, err
	}
	log.ID = t.d().nextID()
	log.CreatedAt = time.Now().UTC()
	t.d().inventoryLogs = append(t.d().inventoryLogs, log)
	return log, nil
}

// ============================================================================
// contracts
// ============================================================================

func (t *Tx) InsertContract(_ context.Context, c contracts.Contract) (int64, error) {
	if err := t.fail("InsertContract"); err != nil {
		return 0, err
	}
	for _, existing := range t.d().contracts {
		if existing.Number == c.Number {
			return 0, fmt.Errorf("%w (%s)", contracts.ErrDuplicateNumber, c.Number)
		}
	}
	now := time.Now().UTC()
	c.ID, c.CreatedAt, c.UpdatedAt, c.Items = t.d().nextID(), now, now, nil
	t.d().contracts[c.ID] = c
	return c.ID, nil
}

func (t *Tx) InsertContractItem(_ context.Context, item contracts.Item) (int64, error) {
	if err := t.fail("InsertContractItem"); err != nil {
		return 0, err
	}
	item.ID = t.d().nextID()
	item.PickedQty, item.FinishedQty = 0, 0
	t.d().items[item.ID] = item
	return item.ID, nil
}

func (t *Tx) GetContractForUpdate(_ context.Context, id int64) (contracts.Contract, error) {
	if err := t.fail("GetContractForUpdate"); err != nil {
		return contracts.Contract{}, err
	}
	return contractWithItems(t.d(), id)
}

func (t *Tx) UpdateContractStatus(_ context.Context, id int64, status contracts.Status) error {
	if err := t.fail("UpdateContractStatus"); err != nil {
		return err
	}
	c, ok := t.d().contracts[id]
	if !ok {
		return fmt.Errorf("%w (id %d)", contracts.ErrContractNotFound, id)
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	t.d().contracts[id] = c
	return nil
}

func (t *Tx) UpdateContractItemQty(_ context.Context, itemID, picked, finished int64) error {
	if err := t.fail("UpdateContractItemQty"); err != nil {
		return err
	}
	item, ok := t.d().items[itemID]
	if !ok {
		return fmt.Errorf("%w (item %d)", contracts.ErrItemNotFound, itemID)
	}
	if picked < 0 || picked > item.OrderedQty || finished < 0 || finished > picked {
		return fmt.Errorf("memstore: contract item %d check violated (picked %d, finished %d)", itemID, picked, finished)
	}
	item.PickedQty, item.FinishedQty = picked, finished
	t.d().items[itemID] = item
	return nil
}

func contractWithItems(d *data, id int64) (contracts.Contract, error) {
	c, ok := d.contracts[id]
	if !ok {
		return contracts.Contract{}, fmt.Errorf("%w (id %d)", contracts.ErrContractNotFound, id)
	}
	c.Items = []contracts.Item{}
	for _, it := range d.items {
		if it.ContractID == id {
			c.Items = append(c.Items, it)
		}
	}
	slices.SortFunc(c.Items, func(a, b contracts.Item) int { return a.LineNo - b.LineNo })
	return c, nil
}

// ============================================================================
// inbound
// ============================================================================

func (t *Tx) InsertDeliveryOrder(_ context.Context, do inbound.DeliveryOrder) (inbound.DeliveryOrder, error) {
	if err := t.fail("InsertDeliveryOrder"); err != nil {
		return inbound.DeliveryOrder{}, err
	}
	for _, existing := range t.d().deliveryOrders {
		if existing.Number == do.Number {
			return inbound.DeliveryOrder{}, fmt.Errorf("%w (%s)", inbound.ErrDuplicateNumber, do.Number)
		}
	}
	now := time.Now().UTC()
	do.ID, do.CreatedAt, do.UpdatedAt = t.d().nextID(), now, now
	t.d().deliveryOrders[do.ID] = do
	return do, nil
}

func (t *Tx) GetDeliveryOrderForUpdate(_ context.Context, id int64) (inbound.DeliveryOrder, error) {
	if err := t.fail("GetDeliveryOrderForUpdate"); err != nil {
		return inbound.DeliveryOrder{}, err
	}
	do, ok := t.d().deliveryOrders[id]
	if !ok {
		return inbound.DeliveryOrder{}, fmt.Errorf("%w (id %d)", inbound.ErrDeliveryOrderNotFound, id)
	}
	return do, nil
}

func (t *Tx) SetDeliveryOrderStatus(_ context.Context, id int64, status inbound.DeliveryStatus) error {
	if err := t.fail("SetDeliveryOrderStatus"); err != nil {
		return err
	}
	do, ok := t.d().deliveryOrders[id]
	if !ok {
		return fmt.Errorf("%w (id %d)", inbound.ErrDeliveryOrderNotFound, id)
	}
	do.Status = status
	do.UpdatedAt = time.Now().UTC()
	t.d().deliveryOrders[id] = do
	return nil
}

func (t *Tx) InsertPendingInbound(_ context.Context, pi inbound.PendingInbound) (inbound.PendingInbound, error) {
	if err := t.fail("InsertPendingInbound"); err != nil {
		return inbound.PendingInbound{}, err
	}
	for _, existing := range t.d().pending {
		if existing.DeliveryOrderID == pi.DeliveryOrderID {
			return inbound.PendingInbound{}, fmt.Errorf("memstore: delivery order %d already has a pending inbound", pi.DeliveryOrderID)
		}
	}
	now := time.Now().UTC()
	pi.ID, pi.CreatedAt, pi.UpdatedAt = t.d().nextID(), now, now
	t.d().pending[pi.ID] = pi
	return pi, nil
}

func (t *Tx) GetPendingInboundForUpdate(_ context.Context, id int64) (inbound.PendingInbound, error) {
	if err := t.fail("GetPendingInboundForUpdate"); err != nil {
		return inbound.PendingInbound{}, err
	}
	pi, ok := t.d().pending[id]
	if !ok {
		return inbound.PendingInbound{}, fmt.Errorf("%w (id %d)", inbound.ErrPendingInboundNotFound, id)
	}
	return pi, nil
}

func (t *Tx) PendingInboundForDeliveryOrder(_ context.Context, deliveryOrderID int64) (inbound.PendingInbound, error) {
	if err := t.fail("PendingInboundForDeliveryOrder"); err != nil {
		return inbound.PendingInbound{}, err
	}
	return pendingByDeliveryOrder(t.d(), deliveryOrderID)
}

func pendingByDeliveryOrder(d *data, deliveryOrderID int64) (inbound.PendingInbound, error) {
	for _, pi := range d.pending {
		if pi.DeliveryOrderID == deliveryOrderID {
			return pi, nil
		}
	}
	return inbound.PendingInbound{}, fmt.Errorf("%w (delivery order %d)", inbound.ErrPendingInboundNotFound, deliveryOrderID)
}

func (t *Tx) UpdatePendingInbound(_ context.Context, pi inbound.PendingInbound) error {
	if err := t.fail("UpdatePendingInbound"); err != nil {
		return err
	}
	current, ok := t.d().pending[pi.ID]
	if !ok {
		return fmt.Errorf("%w (id %d)", inbound.ErrPendingInboundNotFound, pi.ID)
	}
	if pi.ReceivedQty < 0 || pi.ReceivedQty > current.Qty {
		return fmt.Errorf("memstore: pending inbound %d received %d outside 0..%d", pi.ID, pi.ReceivedQty, current.Qty)
	}
	current.VariantID, current.SKU, current.ReceivedQty, current.Status = pi.VariantID, pi.SKU, pi.ReceivedQty, pi.Status
	current.UpdatedAt = time.Now().UTC()
	t.d().pending[pi.ID] = current
	return nil
}

func (t *Tx) InsertInboundBatch(_ context.Context, b inbound.InboundBatch) (inbound.InboundBatch, error) {
	if err := t.fail("InsertInboundBatch"); err != nil {
		return inbound.InboundBatch{}, err
	}
	b.ID, b.CreatedAt = t.d().nextID(), time.Now().UTC()
	t.d().inboundBatches[b.ID] = b
	return b, nil
}

func (t *Tx) GetInboundBatchForUpdate(_ context.Context, id int64) (inbound.InboundBatch, error) {
	if err := t.fail("GetInboundBatchForUpdate"); err != nil {
		return inbound.InboundBatch{}, err
	}
	b, ok := t.d().inboundBatches[id]
	if !ok {
		return inbound.InboundBatch{}, fmt.Errorf("%w (id %d)", inbound.ErrBatchNotFound, id)
	}
	return b, nil
}

// ============================================================================
// outbound and transfer
// ============================================================================

func (t *Tx) InsertOutboundOrder(_ context.Context, o outbound.Order) (outbound.Order, error) {
	if err := t.fail("InsertOutboundOrder"); err != nil {
		return outbound.Order{}, err
	}
	for _, existing := range t.d().orders {
		if existing.Number == o.Number {
			return outbound.Order{}, fmt.Errorf("%w (%s)", outbound.ErrDuplicateNumber, o.Number)
		}
	}
	now := time.Now().UTC()
	o.ID, o.ShippedQty, o.CreatedAt, o.UpdatedAt = t.d().nextID(), 0, now, now
	t.d().orders[o.ID] = o
	return o, nil
}

func (t *Tx) GetOutboundOrderForUpdate(_ context.Context, id int64) (outbound.Order, error) {
	if err := t.fail("GetOutboundOrderForUpdate"); err != nil {
		return outbound.Order{}, err
	}
	o, ok := t.d().orders[id]
	if !ok {
		return outbound.Order{}, fmt.Errorf("%w (id %d)", outbound.ErrOrderNotFound, id)
	}
	return o, nil
}

func (t *Tx) UpdateOutboundOrderProgress(_ context.Context, id int64, shipped int64, status outbound.OrderStatus) error {
	if err := t.fail("UpdateOutboundOrderProgress"); err != nil {
		return err
	}
	o, ok := t.d().orders[id]
	if !ok {
		return fmt.Errorf("%w (id %d)", outbound.ErrOrderNotFound, id)
	}
	if shipped < 0 || shipped > o.Qty {
		return fmt.Errorf("memstore: order %d shipped %d outside 0..%d", id, shipped, o.Qty)
	}
	o.ShippedQty, o.Status, o.UpdatedAt = shipped, status, time.Now().UTC()
	t.d().orders[id] = o
	return nil
}

func (t *Tx) InsertOutboundBatch(_ context.Context, b outbound.Batch) (outbound.Batch, error) {
	if err := t.fail("InsertOutboundBatch"); err != nil {
		return outbound.Batch{}, err
	}
	now := time.Now().UTC()
	b.ID, b.CreatedAt, b.UpdatedAt = t.d().nextID(), now, now
	t.d().batches[b.ID] = b
	return b, nil
}

func (t *Tx) GetOutboundBatchForUpdate(_ context.Context, id int64) (outbound.Batch, error) {
	if err := t.fail("GetOutboundBatchForUpdate"); err != nil {
		return outbound.Batch{}, err
	}
	b, ok := t.d().batches[id]
	if !ok {
		return outbound.Batch{}, fmt.Errorf("%w (id %d)", outbound.ErrBatchNotFound, id)
	}
	return b, nil
}

func (t *Tx) UpdateOutboundBatch(_ context.Context, b outbound.Batch) error {
	if err := t.fail("UpdateOutboundBatch"); err != nil {
		return err
	}
	current, ok := t.d().batches[b.ID]
	if !ok {
		return fmt.Errorf("%w (id %d)", outbound.ErrBatchNotFound, b.ID)
	}
	current.Logistics = b.Logistics
	current.Status = b.Status
	current.ArrivalConfirmedAt = b.ArrivalConfirmedAt
	current.ActualArrivalAt = b.ActualArrivalAt
	current.ArrivalWarehouseID = b.ArrivalWarehouseID
	current.UpdatedAt = time.Now().UTC()
	t.d().batches[b.ID] = current
	return nil
}

func (t *Tx) ExportedFromInboundBatch(_ context.Context, inboundBatchID int64) (int64, error) {
	if err := t.fail("ExportedFromInboundBatch"); err != nil {
		return 0, err
	}
	var total int64
	for _, b := range t.d().batches {
		if b.Status == outbound.BatchCancelled {
			continue
		}
		if o, ok := t.d().orders[b.OrderID]; ok && o.SourceInboundBatchID == inboundBatchID {
			total += b.Qty
		}
	}
	return total, nil
}

func (t *Tx) ClaimArrival(_ context.Context, batchID int64, at time.Time) (bool, error) {
	if err := t.fail("ClaimArrival"); err != nil {
		return false, err
	}
	b, ok := t.d().batches[batchID]
	if !ok || b.ArrivalConfirmedAt != nil {
		return false, nil
	}
	b.ArrivalConfirmedAt = &at
	t.d().batches[batchID] = b
	return true, nil
}
