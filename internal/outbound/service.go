package outbound

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
	"github.com/odyssey-erp/goodsflow/internal/inbound"
	"github.com/odyssey-erp/goodsflow/internal/ledger"
	"github.com/odyssey-erp/goodsflow/internal/platform/cache"
	"github.com/odyssey-erp/goodsflow/internal/platform/events"
	"github.com/odyssey-erp/goodsflow/internal/platform/tracing"
	"github.com/odyssey-erp/goodsflow/internal/shared"
	"github.com/odyssey-erp/goodsflow/internal/warehouses"
)

// OrdersCachePrefix groups every cached outbound order listing.
const OrdersCachePrefix = "outbound:orders"

const idempotencyModule = "outbound.batch"

// TxRepository exposes the statements of one outbound transaction.
type TxRepository interface {
	InsertOutboundOrder(ctx context.Context, o Order) (Order, error)
	GetOutboundOrderForUpdate(ctx context.Context, id int64) (Order, error)
	UpdateOutboundOrderProgress(ctx context.Context, id int64, shipped int64, status OrderStatus) error
	InsertOutboundBatch(ctx context.Context, b Batch) (Batch, error)
	GetOutboundBatchForUpdate(ctx context.Context, id int64) (Batch, error)
	UpdateOutboundBatch(ctx context.Context, b Batch) error
	ExportedFromInboundBatch(ctx context.Context, inboundBatchID int64) (int64, error)
	ClaimIdempotencyKey(ctx context.Context, key, module string) error

	Ledger() ledger.TxRepository
	Inbound() inbound.TxRepository
	Warehouses() warehouses.Reader
	Catalog() catalog.Reader
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOutboundOrder(ctx context.Context, id int64) (Order, error)
	ListOutboundOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
	GetOutboundBatch(ctx context.Context, id int64) (Batch, error)
	ListOutboundBatches(ctx context.Context, orderID int64) ([]Batch, error)
}

// ListingCache caches order listings. *cache.JSONCache implements it.
type ListingCache interface {
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	InvalidatePrefix(ctx context.Context, prefix string) (int, error)
}

// InvalidationQueue retries a failed invalidation later.
type InvalidationQueue interface {
	EnqueueCacheInvalidation(ctx context.Context, prefix string) error
}

// Metrics receives outbound counters.
type Metrics interface {
	SideEffectFailed(kind string)
}

// Dependencies groups the collaborators of Service. Only Ledger is required.
type Dependencies struct {
	Ledger    *ledger.Service
	Cache     ListingCache
	Queue     InvalidationQueue
	Publisher events.Publisher
	Audit     shared.AuditPort
	Metrics   Metrics
	Logger    *slog.Logger
}

// Service implements the outbound pipeline.
type Service struct {
	repo      RepositoryPort
	ledger    *ledger.Service
	cache     ListingCache
	queue     InvalidationQueue
	publisher events.Publisher
	audit     shared.AuditPort
	metrics   Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewService wires the outbound pipeline.
func NewService(repo RepositoryPort, deps Dependencies) *Service {
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		ledger:    deps.Ledger,
		cache:     deps.Cache,
		queue:     deps.Queue,
		publisher: deps.Publisher,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		tracer:    tracing.Tracer(),
	}
}

// CreateOutboundOrder registers a manual outbound order.
func (s *Service) CreateOutboundOrder(ctx context.Context, input CreateOrderInput) (Order, error) {
	if err := shared.RequireRole(ctx, shared.RoleMutate); err != nil {
		return Order{}, err
	}
	if err := shared.Validate(input); err != nil {
		return Order{}, err
	}
	var created Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.Catalog().GetVariant(ctx, input.VariantID); err != nil {
			return err
		}
		if _, err := warehouses.RequireActive(ctx, tx.Warehouses(), input.SourceWarehouseID); err != nil {
			return err
		}
		if input.DestinationWarehouseID > 0 {
			if _, err := tx.Warehouses().GetWarehouse(ctx, input.DestinationWarehouseID); err != nil {
				return err
			}
		}
		var err error
		created, err = tx.InsertOutboundOrder(ctx, Order{
			Number:                 numberOrDefault(input.Number, "OB"),
			VariantID:              input.VariantID,
			Qty:                    input.Qty,
			SourceWarehouseID:      input.SourceWarehouseID,
			DestinationWarehouseID: input.DestinationWarehouseID,
			Destination:            input.Destination,
			Status:                 OrderPending,
			Note:                   input.Note,
			CreatedBy:              shared.ActorID(ctx),
		})
		return err
	})
	if err != nil {
		return Order{}, err
	}
	s.invalidate(ctx)
	s.record(ctx, "outbound_order.create", "outbound_order", created.ID, map[string]any{"number": created.Number, "qty": created.Qty})
	return created, nil
}

// CreateOutboundBatch ships qty of an existing order.
func (s *Service) CreateOutboundBatch(ctx context.Context, input CreateBatchInput) (_ BatchResult, err error) {
	if err := shared.RequireRole(ctx, shared.RoleMutate); err != nil {
		return BatchResult{}, err
	}
	if err := shared.Validate(input); err != nil {
		return BatchResult{}, err
	}
	ctx, span := s.tracer.Start(ctx, "outbound.create_batch", trace.WithAttributes(
		attribute.Int64("outbound_order_id", input.OrderID),
		attribute.Int64("qty", input.Qty),
	))
	defer tracing.End(span, &err)

	var result BatchResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := claimKey(ctx, tx, input.IdempotencyKey); err != nil {
			return err
		}
		order, err := tx.GetOutboundOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		result, err = s.createBatch(ctx, tx, order, batchParams{
			warehouseID: input.WarehouseID,
			qty:         input.Qty,
			shippedAt:   input.ShippedAt,
			logistics:   input.Logistics,
		})
		return err
	})
	if err != nil {
		return BatchResult{}, err
	}
	s.batchCommitted(ctx, "outbound_batch.create", result)
	return result, nil
}

// CreateOutboundFromInboundBatch creates an order from an inbound batch and
// ships it in the same transaction. Everything re-exported from one inbound
// batch never exceeds that batch's quantity.
func (s *Service) CreateOutboundFromInboundBatch(ctx context.Context, input FromInboundInput) (_ BatchResult, err error) {
	if err := shared.RequireRole(ctx, shared.RoleMutate); err != nil {
		return BatchResult{}, err
	}
	if err := shared.Validate(input); err != nil {
		return BatchResult{}, err
	}
	ctx, span := s.tracer.Start(ctx, "outbound.create_from_inbound", trace.WithAttributes(
		attribute.Int64("inbound_batch_id", input.InboundBatchID),
		attribute.Int64("qty", input.Qty),
	))
	defer tracing.End(span, &err)

	var result BatchResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := claimKey(ctx, tx, input.IdempotencyKey); err != nil {
			return err
		}
		ib, err := tx.Inbound().GetInboundBatchForUpdate(ctx, input.InboundBatchID)
		if err != nil {
			return err
		}
		if input.DestinationWarehouseID == ib.WarehouseID {
			return fmt.Errorf("%w: destination must differ from receiving warehouse %d", shared.ErrValidation, ib.WarehouseID)
		}
		if _, err := tx.Warehouses().GetWarehouse(ctx, input.DestinationWarehouseID); err != nil {
			return err
		}
		exported, err := tx.ExportedFromInboundBatch(ctx, ib.ID)
		if err != nil {
			return err
		}
		if exported+input.Qty > ib.Qty {
			return fmt.Errorf("%w: batch %s received %d, %d already exported, %d requested", ErrOverExport, ib.Number, ib.Qty, exported, input.Qty)
		}
		order, err := tx.InsertOutboundOrder(ctx, Order{
			Number:                 numberOrDefault("", "OB"),
			VariantID:              ib.VariantID,
			Qty:                    input.Qty,
			SourceWarehouseID:      ib.WarehouseID,
			DestinationWarehouseID: input.DestinationWarehouseID,
			SourceInboundBatchID:   ib.ID,
			Status:                 OrderPending,
			Note:                   input.Note,
			CreatedBy:              shared.ActorID(ctx),
		})
		if err != nil {
			return err
		}
		result, err = s.createBatch(ctx, tx, order, batchParams{
			warehouseID: ib.WarehouseID,
			qty:         input.Qty,
			shippedAt:   input.ShippedAt,
			logistics:   input.Logistics,
		})
		return err
	})
	if err != nil {
		return BatchResult{}, err
	}
	s.batchCommitted(ctx, "outbound_batch.create_from_inbound", result)
	return result, nil
}

type batchParams struct {
	warehouseID int64
	qty         int64
	shippedAt   time.Time
	logistics   Logistics
}

// createBatch is the single debit path for both ways an order comes to
// exist. It runs inside the caller's transaction with the order locked. The
// stock debit comes before the order-remaining cap so a shipment the
// warehouse cannot cover reports insufficient stock.
func (s *Service) createBatch(ctx context.Context, tx TxRepository, order Order, p batchParams) (BatchResult, error) {
	if order.Status != OrderPending && order.Status != OrderPartial {
		return BatchResult{}, fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, order.Number, order.Status)
	}
	if p.warehouseID == 0 {
		p.warehouseID = order.SourceWarehouseID
	}
	if _, err := warehouses.RequireActive(ctx, tx.Warehouses(), p.warehouseID); err != nil {
		return BatchResult{}, err
	}
	if p.shippedAt.IsZero() {
		p.shippedAt = time.Now().UTC()
	}
	batch, err := tx.InsertOutboundBatch(ctx, Batch{
		Number:      shared.NewDocumentNumber("OBB"),
		OrderID:     order.ID,
		WarehouseID: p.warehouseID,
		VariantID:   order.VariantID,
		Qty:         p.qty,
		ShippedAt:   p.shippedAt,
		Logistics:   p.logistics,
		Status:      BatchPendingShip,
		CreatedBy:   shared.ActorID(ctx),
	})
	if err != nil {
		return BatchResult{}, err
	}
	ref := ledger.RelatedOrder{Type: ledger.RefOutboundBatch, ID: batch.ID, Number: batch.Number}
	posting, err := s.ledger.Debit(ctx, tx.Ledger(), ledger.PostingInput{
		VariantID:   order.VariantID,
		WarehouseID: p.warehouseID,
		Qty:         p.qty,
		Reason:      ledger.ReasonSaleOutbound,
		Ref:         ref,
		Note:        order.Number,
	})
	if err != nil {
		return BatchResult{}, err
	}
	if p.qty > order.Remaining() {
		return BatchResult{}, fmt.Errorf("%w: order %s has %d remaining, %d requested", ErrOverShip, order.Number, order.Remaining(), p.qty)
	}
	if _, err := s.ledger.RecordInventoryLog(ctx, tx.Ledger(), ledger.InventoryLog{
		Type:            ledger.LogTypeOut,
		Status:          ledger.LogStatusInTransit,
		VariantID:       order.VariantID,
		FromWarehouseID: p.warehouseID,
		ToWarehouseID:   order.DestinationWarehouseID,
		Qty:             p.qty,
		Ref:             ref,
	}); err != nil {
		return BatchResult{}, err
	}
	order.ShippedQty += p.qty
	order.Status = DeriveOrderStatus(order.Status, order.ShippedQty, order.Qty)
	if err := tx.UpdateOutboundOrderProgress(ctx, order.ID, order.ShippedQty, order.Status); err != nil {
		return BatchResult{}, err
	}
	return BatchResult{Order: order, Batch: batch, Posting: posting}, nil
}

// UpdateBatchLogistics changes tracking metadata and optionally advances the
// batch status. A status change stamps the last event unless the caller sets
// it explicitly.
func (s *Service) UpdateBatchLogistics(ctx context.Context, id int64, update LogisticsUpdate) (Batch, error) {
	if err := shared.RequireRole(ctx, shared.RoleMutate); err != nil {
		return Batch{}, err
	}
	var next BatchStatus
	if update.Status != nil {
		status, err := ParseBatchStatus(*update.Status)
		if err != nil {
			return Batch{}, err
		}
		if status.rank() < 0 {
			return Batch{}, fmt.Errorf("%w: status %s cannot be set manually", shared.ErrValidation, status)
		}
		next = status
	}
	var updated Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetOutboundBatchForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if b.Status == BatchCancelled {
			return fmt.Errorf("%w: batch %s is cancelled", ErrInvalidTransition, b.Number)
		}
		applyLogistics(&b.Logistics, update)
		if next != "" && next != b.Status {
			if !b.Status.CanAdvance(next) {
				return fmt.Errorf("%w: batch %s cannot move from %s to %s", ErrInvalidTransition, b.Number, b.Status, next)
			}
			b.Status = next
			if update.LastEvent == nil {
				b.Logistics.LastEvent = string(next)
			}
			if update.LastEventAt == nil {
				now := time.Now().UTC()
				b.Logistics.LastEventAt = &now
			}
		}
		if err := tx.UpdateOutboundBatch(ctx, b); err != nil {
			return err
		}
		updated = b
		return nil
	})
	if err != nil {
		return Batch{}, err
	}
	s.publish(ctx, updated)
	s.record(ctx, "outbound_batch.logistics", "outbound_batch", id, map[string]any{"status": updated.Status, "location": updated.Logistics.CurrentLocation})
	return updated, nil
}

func applyLogistics(l *Logistics, u LogisticsUpdate) {
	if u.Carrier != nil {
		l.Carrier = strings.TrimSpace(*u.Carrier)
	}
	if u.Vessel != nil {
		l.Vessel = strings.TrimSpace(*u.Vessel)
	}
	if u.ETA != nil {
		l.ETA = u.ETA
	}
	if u.CurrentLocation != nil {
		l.CurrentLocation = strings.TrimSpace(*u.CurrentLocation)
	}
	if u.LastEvent != nil {
		l.LastEvent = *u.LastEvent
	}
	if u.LastEventAt != nil {
		l.LastEventAt = u.LastEventAt
	}
}

// CancelBatch reverses a batch that has not left the warehouse: the stock is
// credited back and the order's shipped quantity reduced.
func (s *Service) CancelBatch(ctx context.Context, id int64, reason string) (BatchResult, error) {
	if err := shared.RequireRole(ctx, shared.RoleElevated); err != nil {
		return BatchResult{}, err
	}
	var result BatchResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetOutboundBatchForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if b.Status != BatchPendingShip {
			return fmt.Errorf("%w: batch %s is %s, only pending-ship batches can be cancelled", ErrInvalidTransition, b.Number, b.Status)
		}
		order, err := tx.GetOutboundOrderForUpdate(ctx, b.OrderID)
		if err != nil {
			return err
		}
		ref := ledger.RelatedOrder{Type: ledger.RefOutboundBatch, ID: b.ID, Number: b.Number}
		posting, err := s.ledger.Credit(ctx, tx.Ledger(), ledger.PostingInput{
			VariantID:   b.VariantID,
			WarehouseID: b.WarehouseID,
			Qty:         b.Qty,
			Reason:      ledger.ReasonAdjustment,
			Ref:         ref,
			Note:        strings.TrimSpace("cancelled " + reason),
		})
		if err != nil {
			return err
		}
		if _, err := s.ledger.RecordInventoryLog(ctx, tx.Ledger(), ledger.InventoryLog{
			Type:            ledger.LogTypeOut,
			Status:          ledger.LogStatusCancelled,
			VariantID:       b.VariantID,
			FromWarehouseID: b.WarehouseID,
			ToWarehouseID:   order.DestinationWarehouseID,
			Qty:             b.Qty,
			Ref:             ref,
		}); err != nil {
			return err
		}
		b.Status = BatchCancelled
		if err := tx.UpdateOutboundBatch(ctx, b); err != nil {
			return err
		}
		order.ShippedQty -= b.Qty
		order.Status = DeriveOrderStatus(order.Status, order.ShippedQty, order.Qty)
		if err := tx.UpdateOutboundOrderProgress(ctx, order.ID, order.ShippedQty, order.Status); err != nil {
			return err
		}
		result = BatchResult{Order: order, Batch: b, Posting: posting}
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}
	s.batchCommitted(ctx, "outbound_batch.cancel", result)
	return result, nil
}

// CancelOrder cancels an order that has no shipped quantity.
func (s *Service) CancelOrder(ctx context.Context, id int64) (Order, error) {
	if err := shared.RequireRole(ctx, shared.RoleElevated); err != nil {
		return Order{}, err
	}
	var order Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOutboundOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if order.Status == OrderCancelled || order.ShippedQty > 0 {
			return fmt.Errorf("%w: order %s is %s with %d shipped", ErrInvalidTransition, order.Number, order.Status, order.ShippedQty)
		}
		order.Status = OrderCancelled
		return tx.UpdateOutboundOrderProgress(ctx, id, order.ShippedQty, order.Status)
	})
	if err != nil {
		return Order{}, err
	}
	s.invalidate(ctx)
	s.record(ctx, "outbound_order.cancel", "outbound_order", id, nil)
	return order, nil
}

// GetOrder returns an outbound order.
func (s *Service) GetOrder(ctx context.Context, id int64) (Order, error) {
	if err := shared.RequireRole(ctx, shared.RoleRead); err != nil {
		return Order{}, err
	}
	return s.repo.GetOutboundOrder(ctx, id)
}

// ListOrders returns outbound orders through the listing cache.
func (s *Service) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	if err := shared.RequireRole(ctx, shared.RoleRead); err != nil {
		return nil, err
	}
	if filter.Status != "" {
		if _, err := ParseOrderStatus(string(filter.Status)); err != nil {
			return nil, err
		}
	}
	filter.Page = filter.Page.Normalize()
	if s.cache == nil {
		return s.repo.ListOutboundOrders(ctx, filter)
	}
	key := cache.Key(OrdersCachePrefix, string(filter.Status), strconv.FormatInt(filter.VariantID, 10),
		strconv.Itoa(filter.Page.Limit), strconv.Itoa(filter.Page.Offset))
	var out []Order
	err := s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.repo.ListOutboundOrders(ctx, filter)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetBatch returns an outbound batch.
func (s *Service) GetBatch(ctx context.Context, id int64) (Batch, error) {
	if err := shared.RequireRole(ctx, shared.RoleRead); err != nil {
		return Batch{}, err
	}
	return s.repo.GetOutboundBatch(ctx, id)
}

// ListBatches returns the batches of an order.
func (s *Service) ListBatches(ctx context.Context, orderID int64) ([]Batch, error) {
	if err := shared.RequireRole(ctx, shared.RoleRead); err != nil {
		return nil, err
	}
	return s.repo.ListOutboundBatches(ctx, orderID)
}

// InvalidateListings drops cached order listings. The worker calls it when
// an inline invalidation failed.
func (s *Service) InvalidateListings(ctx context.Context) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.InvalidatePrefix(ctx, OrdersCachePrefix)
}

func (s *Service) batchCommitted(ctx context.Context, action string, result BatchResult) {
	s.ledger.Committed(ctx, result.Posting)
	s.publish(ctx, result.Batch)
	s.invalidate(ctx)
	s.record(ctx, action, "outbound_batch", result.Batch.ID, map[string]any{
		"number": result.Batch.Number, "order": result.Order.Number, "qty": result.Batch.Qty, "status": result.Batch.Status,
	})
}

// invalidate is fire-and-forget; a failure is handed to the queue.
func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	_, err := s.cache.InvalidatePrefix(ctx, OrdersCachePrefix)
	if err == nil {
		return
	}
	s.logger.Warn("outbound cache invalidation", slog.Any("error", err))
	if s.metrics != nil {
		s.metrics.SideEffectFailed("cache")
	}
	if s.queue == nil {
		return
	}
	if err := s.queue.EnqueueCacheInvalidation(ctx, OrdersCachePrefix); err != nil {
		s.logger.Warn("enqueue cache invalidation", slog.Any("error", err))
	}
}

func (s *Service) publish(ctx context.Context, b Batch) {
	evt, err := events.NewEvent(events.TypeOutboundBatch, strconv.FormatInt(b.ID, 10), b)
	if err == nil {
		err = s.publisher.Publish(ctx, evt)
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.SideEffectFailed("event")
		}
		s.logger.Warn("outbound event publish", slog.Int64("batch_id", b.ID), slog.Any("error", err))
	}
}

// claimKey records the client retry key on the batch transaction. An empty
// key is not claimed.
func claimKey(ctx context.Context, tx TxRepository, key string) error {
	if key == "" {
		return nil
	}
	return tx.ClaimIdempotencyKey(ctx, key, idempotencyModule)
}

func (s *Service) record(ctx context.Context, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: entity, EntityID: strconv.FormatInt(id, 10), Meta: meta}); err != nil {
		s.logger.Warn("outbound audit", slog.String("action", action), slog.Int64("id", id), slog.Any("error", err))
	}
}

func numberOrDefault(number, prefix string) string {
	if n := strings.TrimSpace(number); n != "" {
		return n
	}
	return shared.NewDocumentNumber(prefix)
}
