package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/odyssey-erp/goodsflow/internal/contracts"
	"github.com/odyssey-erp/goodsflow/internal/inbound"
	"github.com/odyssey-erp/goodsflow/internal/ledger"
	"github.com/odyssey-erp/goodsflow/internal/outbound"
	"github.com/odyssey-erp/goodsflow/internal/transfer"
)

// Ledger returns the ledger repository view of the store.
func (s *Store) Ledger() *LedgerRepo { return &LedgerRepo{s} }

// Contracts returns the contracts repository view of the store.
func (s *Store) Contracts() *ContractsRepo { return &ContractsRepo{s} }

// Inbound returns the inbound repository view of the store.
func (s *Store) Inbound() *InboundRepo { return &InboundRepo{s} }

// Outbound returns the outbound repository view of the store.
func (s *Store) Outbound() *OutboundRepo { return &OutboundRepo{s} }

// Transfer returns the transfer repository view of the store.
func (s *Store) Transfer() *TransferRepo { return &TransferRepo{s} }

// LedgerRepo implements ledger.RepositoryPort.
type LedgerRepo struct{ s *Store }

func (r *LedgerRepo) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return r.s.withTx(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}

func (r *LedgerRepo) GetStock(_ context.Context, variantID, warehouseID int64) (ledger.Stock, error) {
	var (
		st ledger.Stock
		ok bool
	)
	r.s.read(func(d *data) { st, ok = d.stock[pair{variantID, warehouseID}] })
	if !ok {
		return ledger.Stock{VariantID: variantID, WarehouseID: warehouseID},
			fmt.Errorf("%w (variant %d, warehouse %d)", ledger.ErrStockNotFound, variantID, warehouseID)
	}
	return st, nil
}

func (r *LedgerRepo) ListStock(_ context.Context, filter ledger.StockFilter) ([]ledger.Stock, error) {
	out := []ledger.Stock{}
	r.s.read(func(d *data) {
		for _, st := range d.stock {
			if filter.VariantID != 0 && st.VariantID != filter.VariantID {
				continue
			}
			if filter.WarehouseID != 0 && st.WarehouseID != filter.WarehouseID {
				continue
			}
			out = append(out, st)
		}
	})
	slices.SortFunc(out, compareStock)
	return page(out, filter.Page), nil
}

func (r *LedgerRepo) ListMovements(_ context.Context, filter ledger.MovementFilter) ([]ledger.Movement, error) {
	out := []ledger.Movement{}
	r.s.read(func(d *data) {
		for _, mv := range d.movements {
			switch {
			case filter.VariantID != 0 && mv.VariantID != filter.VariantID,
				filter.WarehouseID != 0 && mv.WarehouseID != filter.WarehouseID,
				filter.Reason != "" && mv.Reason != filter.Reason,
				filter.RefType != "" && mv.Ref.Type != filter.RefType,
				filter.RefID != 0 && mv.Ref.ID != filter.RefID:
				continue
			}
			out = append(out, mv)
		}
	})
	slices.SortFunc(out, func(a, b ledger.Movement) int {
		switch {
		case a.VariantID != b.VariantID:
			return int(a.VariantID - b.VariantID)
		case a.WarehouseID != b.WarehouseID:
			return int(a.WarehouseID - b.WarehouseID)
		}
		return int(a.Sequence - b.Sequence)
	})
	return page(out, filter.Page), nil
}

func (r *LedgerRepo) PairSnapshot(_ context.Context, variantID, warehouseID int64) (ledger.Stock, []ledger.Movement, error) {
	st := ledger.Stock{VariantID: variantID, WarehouseID: warehouseID}
	var out []ledger.Movement
	r.s.read(func(d *data) {
		if row, ok := d.stock[pair{variantID, warehouseID}]; ok {
			st = row
		}
		out = movementsFor(d, variantID, warehouseID)
	})
	return st, out, nil
}

func (r *LedgerRepo) StockPageAfter(_ context.Context, after ledger.PairKey, limit int) ([]ledger.Stock, error) {
	out := []ledger.Stock{}
	r.s.read(func(d *data) {
		for _, st := range d.stock {
			if st.VariantID > after.VariantID || (st.VariantID == after.VariantID && st.WarehouseID > after.WarehouseID) {
				out = append(out, st)
			}
		}
	})
	slices.SortFunc(out, compareStock)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *LedgerRepo) ListInventoryLogs(_ context.Context, filter ledger.InventoryLogFilter) ([]ledger.InventoryLog, error) {
	out := []ledger.InventoryLog{}
	r.s.read(func(d *data) {
		for i := len(d.inventoryLogs) - 1; i >= 0; i-- {
			log := d.inventoryLogs[i]
			switch {
			case filter.VariantID != 0 && log.VariantID != filter.VariantID,
				filter.RefType != "" && log.Ref.Type != filter.RefType,
				filter.RefID != 0 && log.Ref.ID != filter.RefID:
				continue
			}
			out = append(out, log)
		}
	})
	return page(out, filter.Page), nil
}

func compareStock(a, b ledger.Stock) int {
	if c := cmp.Compare(a.VariantID, b.VariantID); c != 0 {
		return c
	}
	return cmp.Compare(a.WarehouseID, b.WarehouseID)
}

// ContractsRepo implements contracts.RepositoryPort.
type ContractsRepo struct{ s *Store }

func (r *ContractsRepo) WithTx(ctx context.Context, fn func(context.Context, contracts.TxRepository) error) error {
	return r.s.withTx(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}

func (r *ContractsRepo) GetContract(_ context.Context, id int64) (contracts.Contract, error) {
	var (
		c   contracts.Contract
		err error
	)
	r.s.read(func(d *data) { c, err = contractWithItems(d, id) })
	return c, err
}

func (r *ContractsRepo) ListContracts(_ context.Context, filter contracts.ListFilter) ([]contracts.Contract, error) {
	out := []contracts.Contract{}
	r.s.read(func(d *data) {
		for _, c := range sortedByID(d.contracts, func(c contracts.Contract) int64 { return c.ID }, true) {
			if filter.Status != "" && c.Status != filter.Status {
				continue
			}
			full, _ := contractWithItems(d, c.ID)
			out = append(out, full)
		}
	})
	return page(out, filter.Page), nil
}

// InboundRepo implements inbound.RepositoryPort.
type InboundRepo struct{ s *Store }

func (r *InboundRepo) WithTx(ctx context.Context, fn func(context.Context, inbound.TxRepository) error) error {
	return r.s.withTx(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}

func (r *InboundRepo) GetDeliveryOrder(_ context.Context, id int64) (inbound.DeliveryOrder, error) {
	var (
		do inbound.DeliveryOrder
		ok bool
	)
	r.s.read(func(d *data) { do, ok = d.deliveryOrders[id] })
	if !ok {
		return inbound.DeliveryOrder{}, fmt.Errorf("%w (id %d)", inbound.ErrDeliveryOrderNotFound, id)
	}
	return do, nil
}

func (r *InboundRepo) ListDeliveryOrders(_ context.Context, filter inbound.DeliveryOrderFilter) ([]inbound.DeliveryOrder, error) {
	out := []inbound.DeliveryOrder{}
	r.s.read(func(d *data) {
		for _, do := range sortedByID(d.deliveryOrders, func(do inbound.DeliveryOrder) int64 { return do.ID }, true) {
			if filter.ContractID != 0 && do.ContractID != filter.ContractID {
				continue
			}
			if filter.Status != "" && do.Status != filter.Status {
				continue
			}
			out = append(out, do)
		}
	})
	return page(out, filter.Page), nil
}

func (r *InboundRepo) GetPendingInbound(_ context.Context, id int64) (inbound.PendingInbound, error) {
	var (
		pi inbound.PendingInbound
		ok bool
	)
	r.s.read(func(d *data) { pi, ok = d.pending[id] })
	if !ok {
		return inbound.PendingInbound{}, fmt.Errorf("%w (id %d)", inbound.ErrPendingInboundNotFound, id)
	}
	return pi, nil
}

func (r *InboundRepo) GetPendingInboundByDeliveryOrder(_ context.Context, deliveryOrderID int64) (inbound.PendingInbound, error) {
	var (
		pi  inbound.PendingInbound
		err error
	)
	r.s.read(func(d *data) { pi, err = pendingByDeliveryOrder(d, deliveryOrderID) })
	return pi, err
}

func (r *InboundRepo) GetInboundBatch(_ context.Context, id int64) (inbound.InboundBatch, error) {
	var (
		b  inbound.InboundBatch
		ok bool
	)
	r.s.read(func(d *data) { b, ok = d.inboundBatches[id] })
	if !ok {
		return inbound.InboundBatch{}, fmt.Errorf("%w (id %d)", inbound.ErrBatchNotFound, id)
	}
	return b, nil
}

func (r *InboundRepo) ListInboundBatches(_ context.Context, filter inbound.BatchFilter) ([]inbound.InboundBatch, error) {
	out := []inbound.InboundBatch{}
	r.s.read(func(d *data) {
		for _, b := range sortedByID(d.inboundBatches, func(b inbound.InboundBatch) int64 { return b.ID }, true) {
			if filter.PendingInboundID != 0 && b.PendingInboundID != filter.PendingInboundID {
				continue
			}
			if filter.WarehouseID != 0 && b.WarehouseID != filter.WarehouseID {
				continue
			}
			out = append(out, b)
		}
	})
	return page(out, filter.Page), nil
}

// OutboundRepo implements outbound.RepositoryPort.
type OutboundRepo struct{ s *Store }

func (r *OutboundRepo) WithTx(ctx context.Context, fn func(context.Context, outbound.TxRepository) error) error {
	return r.s.withTx(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}

func (r *OutboundRepo) GetOutboundOrder(_ context.Context, id int64) (outbound.Order, error) {
	var (
		o  outbound.Order
		ok bool
	)
	r.s.read(func(d *data) { o, ok = d.orders[id] })
	if !ok {
		return outbound.Order{}, fmt.Errorf("%w (id %d)", outbound.ErrOrderNotFound, id)
	}
	return o, nil
}

func (r *OutboundRepo) ListOutboundOrders(_ context.Context, filter outbound.OrderFilter) ([]outbound.Order, error) {
	out := []outbound.Order{}
	r.s.read(func(d *data) {
		for _, o := range sortedByID(d.orders, func(o outbound.Order) int64 { return o.ID }, true) {
			if filter.Status != "" && o.Status != filter.Status {
				continue
			}
			if filter.VariantID != 0 && o.VariantID != filter.VariantID {
				continue
			}
			out = append(out, o)
		}
	})
	return page(out, filter.Page), nil
}

func (r *OutboundRepo) GetOutboundBatch(_ context.Context, id int64) (outbound.Batch, error) {
	var (
		b  outbound.Batch
		ok bool
	)
	r.s.read(func(d *data) { b, ok = d.batches[id] })
	if !ok {
		return outbound.Batch{}, fmt.Errorf("%w (id %d)", outbound.ErrBatchNotFound, id)
	}
	return b, nil
}

func (r *OutboundRepo) ListOutboundBatches(_ context.Context, orderID int64) ([]outbound.Batch, error) {
	out := []outbound.Batch{}
	r.s.read(func(d *data) {
		for _, b := range sortedByID(d.batches, func(b outbound.Batch) int64 { return b.ID }, false) {
			if b.OrderID == orderID {
				out = append(out, b)
			}
		}
	})
	return out, nil
}

// TransferRepo implements transfer.RepositoryPort.
type TransferRepo struct{ s *Store }

func (r *TransferRepo) WithTx(ctx context.Context, fn func(context.Context, transfer.TxRepository) error) error {
	return r.s.withTx(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}
