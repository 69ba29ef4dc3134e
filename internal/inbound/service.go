package inbound

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/odyssey-erp/goodsflow/internal/catalog"
	"github.com/odyssey-erp/goodsflow/internal/contracts"
	"github.com/odyssey-erp/goodsflow/internal/ledger"
	"github.com/odyssey-erp/goodsflow/internal/platform/tracing"
	"github.com/odyssey-erp/goodsflow/internal/shared"
	"github.com/odyssey-erp/goodsflow/internal/warehouses"
)

// TxRepository exposes the statements of one inbound transaction, including
// the contract and ledger repositories bound to the same transaction.
type TxRepository interface {
	InsertDeliveryOrder(ctx context.Context, do DeliveryOrder) (DeliveryOrder, error)
	GetDeliveryOrderForUpdate(ctx context.Context, id int64) (DeliveryOrder, error)
	SetDeliveryOrderStatus(ctx context.Context, id int64, status DeliveryStatus) error
	InsertPendingInbound(ctx context.Context, pi PendingInbound) (PendingInbound, error)
	GetPendingInboundForUpdate(ctx context.Context, id int64) (PendingInbound, error)
	PendingInboundForDeliveryOrder(ctx context.Context, deliveryOrderID int64) (PendingInbound, error)
	UpdatePendingInbound(ctx context.Context, pi PendingInbound) error
	InsertInboundBatch(ctx context.Context, b InboundBatch) (InboundBatch, error)
	GetInboundBatchForUpdate(ctx context.Context, id int64) (InboundBatch, error)
	ClaimIdempotencyKey(ctx context.Context, key, module string) error

	Ledger() ledger.TxRepository
	Contracts() contracts.TxRepository
	Warehouses() warehouses.Reader
	Catalog() catalog.Reader
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDeliveryOrder(ctx context.Context, id int64) (DeliveryOrder, error)
	ListDeliveryOrders(ctx context.Context, filter DeliveryOrderFilter) ([]DeliveryOrder, error)
	GetPendingInbound(ctx context.Context, id int64) (PendingInbound, error)
	GetPendingInboundByDeliveryOrder(ctx context.Context, deliveryOrderID int64) (PendingInbound, error)
	GetInboundBatch(ctx context.Context, id int64) (InboundBatch, error)
	ListInboundBatches(ctx context.Context, filter BatchFilter) ([]InboundBatch, error)
}

const idempotencyModule = "inbound.batch"

// Service implements the inbound pipeline.
type Service struct {
	repo      RepositoryPort
	ledger    *ledger.Service
	contracts *contracts.Service
	resolvers ResolverChain
	audit     shared.AuditPort
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewService wires the inbound pipeline. A nil resolver chain uses
// DefaultResolvers.
func NewService(repo RepositoryPort, ledgerSvc *ledger.Service, contractSvc *contracts.Service, resolvers ResolverChain, audit shared.AuditPort, logger *slog.Logger) *Service {
	if resolvers == nil {
		resolvers = DefaultResolvers()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		ledger:    ledgerSvc,
		contracts: contractSvc,
		resolvers: resolvers,
		audit:     audit,
		logger:    logger,
		tracer:    tracing.Tracer(),
	}
}

// CreateDeliveryOrder draws qty from a contract item and creates the delivery
// order with its pending inbound in one transaction.
func (s *Service) CreateDeliveryOrder(ctx context.Context, input CreateDeliveryOrderInput) (_ DeliveryOrderResult, err error) {
	if err := shared.RequireRole(ctx, shared.RoleMutate); err != nil {
		return DeliveryOrderResult{}, err
	}
	if err := shared.Validate(input); err != nil {
		return DeliveryOrderResult{}, err
	}
	ctx, span := s.tracer.Start(ctx, "inbound.create_delivery_order", trace.WithAttributes(
		attribute.Int64("contract_id", input.ContractID),
		attribute.Int64("qty", input.Qty),
	))
	defer tracing.End(span, &err)

	number := strings.TrimSpace(input.Number)
	if number == "" {
		number = shared.NewDocumentNumber("DO")
	}
	var result DeliveryOrderResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		contract, err := tx.Contracts().GetContractForUpdate(ctx, input.ContractID)
		if err != nil {
			return err
		}
		item, err := pickItem(contract, input.ContractItemID, input.Qty)
		if err != nil {
			return err
		}
		updated, err := s.contracts.ApplyPickup(ctx, tx.Contracts(), contract.ID, []contracts.Allocation{{ItemID: item.ID, Qty: input.Qty}})
		if err != nil {
			return err
		}
		do, err := tx.InsertDeliveryOrder(ctx, DeliveryOrder{
			Number:         number,
			ContractID:     contract.ID,
			ContractItemID: item.ID,
			Qty:            input.Qty,
			Status:         DeliveryPending,
			ExpectedAt:     input.ExpectedAt,
			Note:           input.Note,
			CreatedBy:      shared.ActorID(ctx),
		})
		if err != nil {
			return err
		}
		pi, err := tx.InsertPendingInbound(ctx, PendingInbound{
			DeliveryOrderID: do.ID,
			VariantID:       item.VariantID,
			SKU:             item.SKU,
			Qty:             input.Qty,
			Status:          PendingOpen,
		})
		if err != nil {
			return err
		}
		result = DeliveryOrderResult{DeliveryOrder: do, PendingInbound: pi, Contract: updated}
		return nil
	})
	if err != nil {
		return DeliveryOrderResult{}, err
	}
	s.record(ctx, "delivery_order.create", "delivery_order", result.DeliveryOrder.ID, map[string]any{
		"number": result.DeliveryOrder.Number, "contract_id": input.ContractID, "qty": input.Qty,
	})
	return result, nil
}

// pickItem returns the requested item, or the first item that can cover qty.
func pickItem(c contracts.Contract, itemID, qty int64) (contracts.Item, error) {
	if itemID > 0 {
		item, ok := c.Item(itemID)
		if !ok {
			return contracts.Item{}, fmt.Errorf("%w (item %d, contract %d)", contracts.ErrItemNotFound, itemID, c.ID)
		}
		return item, nil
	}
	for _, item := range c.Items {
		if item.Remaining() >= qty {
			return item, nil
		}
	}
	return contracts.Item{}, fmt.Errorf("%w: no item of contract %s has %d remaining (total remaining %d)", contracts.ErrOverPick, c.Number, qty, c.Remaining())
}

// RegisterInboundBatch receives qty into a warehouse. The ledger credit, the
// batch row, the pending inbound and delivery order roll-ups, the contract
// finished quantity and the client's idempotency key commit together or not
// at all.
func (s *Service) RegisterInboundBatch(ctx context.Context, input RegisterBatchInput) (_ BatchResult, err error) {
	if err := shared.RequireRole(ctx, shared.RoleMutate); err != nil {
		return BatchResult{}, err
	}
	if err := shared.Validate(input); err != nil {
		return BatchResult{}, err
	}
	ctx, span := s.tracer.Start(ctx, "inbound.register_batch", trace.WithAttributes(
		attribute.Int64("pending_inbound_id", input.PendingInboundID),
		attribute.Int64("warehouse_id", input.WarehouseID),
		attribute.Int64("qty", input.Qty),
	))
	defer tracing.End(span, &err)

	if input.ReceivedAt.IsZero() {
		input.ReceivedAt = time.Now().UTC()
	}

	var result BatchResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.IdempotencyKey != "" {
			if err := tx.ClaimIdempotencyKey(ctx, input.IdempotencyKey, idempotencyModule); err != nil {
				return err
			}
		}
		pi, err := tx.GetPendingInboundForUpdate(ctx, input.PendingInboundID)
		if err != nil {
			return err
		}
		do, err := tx.GetDeliveryOrderForUpdate(ctx, pi.DeliveryOrderID)
		if err != nil {
			return err
		}
		if do.Status.IsTerminal() || pi.Status == PendingReceived || pi.Status == PendingCancelled {
			return fmt.Errorf("%w: %s is %s", ErrClosed, do.Number, do.Status)
		}
		if input.Qty > pi.Remaining() {
			return fmt.Errorf("%w: %d remaining on %s, %d received", ErrOverReceipt, pi.Remaining(), do.Number, input.Qty)
		}
		if _, err := warehouses.RequireActive(ctx, tx.Warehouses(), input.WarehouseID); err != nil {
			return err
		}
		contract, err := tx.Contracts().GetContractForUpdate(ctx, do.ContractID)
		if err != nil {
			return err
		}
		item, ok := contract.Item(do.ContractItemID)
		if !ok {
			return fmt.Errorf("%w (item %d, contract %d)", contracts.ErrItemNotFound, do.ContractItemID, do.ContractID)
		}
		variantID, via, err := s.resolvers.Resolve(ctx, ResolveInput{Pending: pi, Item: item, Catalog: tx.Catalog()})
		if err != nil {
			return err
		}
		if pi.VariantID == 0 {
			s.logger.Info("pending inbound variant resolved", slog.Int64("pending_inbound_id", pi.ID), slog.Int64("variant_id", variantID), slog.String("via", via))
			pi.VariantID = variantID
		}

		batch, err := tx.InsertInboundBatch(ctx, InboundBatch{
			Number:           shared.NewDocumentNumber("IB"),
			PendingInboundID: pi.ID,
			WarehouseID:      input.WarehouseID,
			VariantID:        variantID,
			Qty:              input.Qty,
			ReceivedAt:       input.ReceivedAt,
			Note:             input.Note,
			CreatedBy:        shared.ActorID(ctx),
		})
		if err != nil {
			return err
		}
		ref := ledger.RelatedOrder{Type: ledger.RefInboundBatch, ID: batch.ID, Number: batch.Number}
		posting, err := s.ledger.Credit(ctx, tx.Ledger(), ledger.PostingInput{
			VariantID:   variantID,
			WarehouseID: input.WarehouseID,
			Qty:         input.Qty,
			Reason:      ledger.ReasonPurchaseInbound,
			Ref:         ref,
			Note:        do.Number,
		})
		if err != nil {
			return err
		}
		if _, err := s.ledger.RecordInventoryLog(ctx, tx.Ledger(), ledger.InventoryLog{
			Type:          ledger.LogTypeIn,
			Status:        ledger.LogStatusReceived,
			VariantID:     variantID,
			ToWarehouseID: input.WarehouseID,
			Qty:           input.Qty,
			Ref:           ref,
		}); err != nil {
			return err
		}

		pi.ReceivedQty += input.Qty
		pi.Status = DerivePendingStatus(pi.Status, pi.ReceivedQty, pi.Qty)
		if err := tx.UpdatePendingInbound(ctx, pi); err != nil {
			return err
		}
		if err := s.contracts.RecordFinished(ctx, tx.Contracts(), do.ContractID, do.ContractItemID, input.Qty); err != nil {
			return err
		}
		if pi.Status == PendingReceived {
			if err := tx.SetDeliveryOrderStatus(ctx, do.ID, DeliveryReceived); err != nil {
				return err
			}
			do.Status = DeliveryReceived
		}
		result = BatchResult{Batch: batch, PendingInbound: pi, DeliveryOrder: do, Posting: posting}
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}
	s.ledger.Committed(ctx, result.Posting)
	s.record(ctx, "inbound_batch.create", "inbound_batch", result.Batch.ID, map[string]any{
		"number": result.Batch.Number, "pending_inbound_id": input.PendingInboundID, "warehouse_id": input.WarehouseID, "qty": input.Qty,
	})
	return result, nil
}

// UpdateDeliveryOrderStatus applies a manual shipped or in-transit update.
// Received is reached only through receipts and cancelled only through
// CancelDeliveryOrder.
func (s *Service) UpdateDeliveryOrderStatus(ctx context.Context, id int64, raw string) (DeliveryOrder, error) {
	if err := shared.RequireRole(ctx, shared.RoleMutate); err != nil {
		return DeliveryOrder{}, err
	}
	status, err := ParseDeliveryStatus(raw)
	if err != nil {
		return DeliveryOrder{}, err
	}
	if status != DeliveryShipped && status != DeliveryInTransit {
		return DeliveryOrder{}, fmt.Errorf("%w: status %s cannot be set manually", shared.ErrValidation, status)
	}
	var from DeliveryStatus
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		do, err := tx.GetDeliveryOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !do.Status.CanTransition(status) {
			return fmt.Errorf("%w: %s cannot move from %s to %s", ErrInvalidTransition, do.Number, do.Status, status)
		}
		from = do.Status
		return tx.SetDeliveryOrderStatus(ctx, id, status)
	})
	if err != nil {
		return DeliveryOrder{}, err
	}
	s.record(ctx, "delivery_order.status", "delivery_order", id, map[string]any{"from": from, "to": status})
	return s.repo.GetDeliveryOrder(ctx, id)
}

// CancelDeliveryOrder cancels an order nothing has been received against,
// closes its pending inbound and returns the pickup to the contract.
func (s *Service) CancelDeliveryOrder(ctx context.Context, id int64, reason string) (DeliveryOrder, error) {
	if err := shared.RequireRole(ctx, shared.RoleElevated); err != nil {
		return DeliveryOrder{}, err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		do, err := tx.GetDeliveryOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if do.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is already %s", ErrInvalidTransition, do.Number, do.Status)
		}
		pi, err := tx.PendingInboundForDeliveryOrder(ctx, do.ID)
		if err != nil {
			return err
		}
		if pi.ReceivedQty > 0 {
			return fmt.Errorf("%w: %s has %d received", ErrInvalidTransition, do.Number, pi.ReceivedQty)
		}
		pi.Status = PendingCancelled
		if err := tx.UpdatePendingInbound(ctx, pi); err != nil {
			return err
		}
		if err := tx.SetDeliveryOrderStatus(ctx, do.ID, DeliveryCancelled); err != nil {
			return err
		}
		contract, err := tx.Contracts().GetContractForUpdate(ctx, do.ContractID)
		if err != nil {
			return err
		}
		if contract.Status.IsTerminal() {
			return nil
		}
		_, err = s.contracts.ReleasePickup(ctx, tx.Contracts(), do.ContractID, []contracts.Allocation{{ItemID: do.ContractItemID, Qty: do.Qty}})
		return err
	})
	if err != nil {
		return DeliveryOrder{}, err
	}
	s.record(ctx, "delivery_order.cancel", "delivery_order", id, map[string]any{"reason": reason})
	return s.repo.GetDeliveryOrder(ctx, id)
}

// GetDeliveryOrder returns a delivery order.
func (s *Service) GetDeliveryOrder(ctx context.Context, id int64) (DeliveryOrder, error) {
	if err := shared.RequireRole(ctx, shared.RoleRead); err != nil {
		return DeliveryOrder{}, err
	}
	return s.repo.GetDeliveryOrder(ctx, id)
}

// ListDeliveryOrders returns delivery orders matching filter.
func (s *Service) ListDeliveryOrders(ctx context.Context, filter DeliveryOrderFilter) ([]DeliveryOrder, error) {
	if err := shared.RequireRole(ctx, shared.RoleRead); err != nil {
		return nil, err
	}
	if filter.Status != "" {
		if _, err := ParseDeliveryStatus(string(filter.Status)); err != nil {
			return nil, err
		}
	}
	filter.Page = filter.Page.Normalize()
	return s.repo.ListDeliveryOrders(ctx, filter)
}

// GetPendingInbound returns a pending inbound by id.
func (s *Service) GetPendingInbound(ctx context.Context, id int64) (PendingInbound, error) {
	if err := shared.RequireRole(ctx, shared.RoleRead); err != nil {
		return PendingInbound{}, err
	}
	return s.repo.GetPendingInbound(ctx, id)
}

// PendingInboundForDeliveryOrder returns the expectation of a delivery order.
func (s *Service) PendingInboundForDeliveryOrder(ctx context.Context, deliveryOrderID int64) (PendingInbound, error) {
	if err := shared.RequireRole(ctx, shared.RoleRead); err != nil {
		return PendingInbound{}, err
	}
	return s.repo.GetPendingInboundByDeliveryOrder(ctx, deliveryOrderID)
}

// GetBatch returns an inbound batch.
func (s *Service) GetBatch(ctx context.Context, id int64) (InboundBatch, error) {
	if err := shared.RequireRole(ctx, shared.RoleRead); err != nil {
		return InboundBatch{}, err
	}
	return s.repo.GetInboundBatch(ctx, id)
}

// ListBatches returns inbound batches matching filter.
func (s *Service) ListBatches(ctx context.Context, filter BatchFilter) ([]InboundBatch, error) {
	if err := shared.RequireRole(ctx, shared.RoleRead); err != nil {
		return nil, err
	}
	filter.Page = filter.Page.Normalize()
	return s.repo.ListInboundBatches(ctx, filter)
}

func (s *Service) record(ctx context.Context, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: entity, EntityID: strconv.FormatInt(id, 10), Meta: meta}); err != nil {
		s.logger.Warn("inbound audit", slog.String("action", action), slog.Int64("id", id), slog.Any("error", err))
	}
}
