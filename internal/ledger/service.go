package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/odyssey-erp/goodsflow/internal/catalog"
	"github.com/odyssey-erp/goodsflow/internal/platform/events"
	"github.com/odyssey-erp/goodsflow/internal/platform/tracing"
	"github.com/odyssey-erp/goodsflow/internal/shared"
	"github.com/odyssey-erp/goodsflow/internal/warehouses"
)

// TxRepository exposes the transactional stock operations. Every pipeline that
// moves goods gets one from its own transaction and passes it to Credit/Debit.
type TxRepository interface {
	GetStockForUpdate(ctx context.Context, variantID, warehouseID int64) (Stock, error)
	UpsertStock(ctx context.Context, stock Stock) error
	AppendMovement(ctx context.Context, mv Movement) (Movement, error)
	AppendInventoryLog(ctx context.Context, log InventoryLog) (InventoryLog, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStock(ctx context.Context, variantID, warehouseID int64) (Stock, error)
	ListStock(ctx context.Context, filter StockFilter) ([]Stock, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	// PairSnapshot reads a stock row and its complete movement log from
	// one consistent snapshot.
	PairSnapshot(ctx context.Context, variantID, warehouseID int64) (Stock, []Movement, error)
	// StockPageAfter returns up to limit stock rows ordered by PairKey,
	// strictly after the given key.
	StockPageAfter(ctx context.Context, after PairKey, limit int) ([]Stock, error)
	ListInventoryLogs(ctx context.Context, filter InventoryLogFilter) ([]InventoryLog, error)
}

// Metrics receives ledger counters. *observability.Metrics implements it.
type Metrics interface {
	MovementCommitted(reason string, delta int64)
	InsufficientStock()
	SideEffectFailed(kind string)
}

// Dependencies groups the optional collaborators of Service.
type Dependencies struct {
	Warehouses warehouses.Reader
	Variants   catalog.Reader
	Publisher  events.Publisher
	Metrics    Metrics
	Logger     *slog.Logger
}

// Service coordinates stock postings.
type Service struct {
	repo       RepositoryPort
	warehouses warehouses.Reader
	variants   catalog.Reader
	publisher  events.Publisher
	metrics    Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewService builds Service.
func NewService(repo RepositoryPort, deps Dependencies) *Service {
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		warehouses: deps.Warehouses,
		variants:   deps.Variants,
		publisher:  deps.Publisher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		tracer:     tracing.Tracer(),
	}
}

// Credit adds qty to the pair inside the caller's transaction, creating the
// stock row when absent, and appends one movement.
func (s *Service) Credit(ctx context.Context, tx TxRepository, input PostingInput) (Posting, error) {
	return s.post(ctx, tx, input, input.Qty)
}

// Debit removes qty from the pair inside the caller's transaction. The
// availability check uses the row read under lock for the update itself.
func (s *Service) Debit(ctx context.Context, tx TxRepository, input PostingInput) (Posting, error) {
	return s.post(ctx, tx, input, -input.Qty)
}

func (s *Service) post(ctx context.Context, tx TxRepository, input PostingInput, delta int64) (_ Posting, err error) {
	if input.Qty <= 0 {
		return Posting{}, ErrInvalidQuantity
	}
	if err := shared.Validate(input); err != nil {
		return Posting{}, err
	}
	if !input.Reason.IsValid() {
		return Posting{}, fmt.Errorf("%w: unknown movement reason %q", shared.ErrValidation, input.Reason)
	}
	ctx, span := s.tracer.Start(ctx, "ledger.post", trace.WithAttributes(
		attribute.Int64("variant_id", input.VariantID),
		attribute.Int64("warehouse_id", input.WarehouseID),
		attribute.Int64("delta", delta),
		attribute.String("reason", string(input.Reason)),
	))
	defer tracing.End(span, &err)

	current, err := tx.GetStockForUpdate(ctx, input.VariantID, input.WarehouseID)
	if err != nil && !errors.Is(err, ErrStockNotFound) {
		return Posting{}, err
	}
	if errors.Is(err, ErrStockNotFound) {
		current = Stock{VariantID: input.VariantID, WarehouseID: input.WarehouseID}
	}
	next, err := applyDelta(current, delta)
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) && s.metrics != nil {
			s.metrics.InsufficientStock()
		}
		return Posting{}, err
	}
	if err := tx.UpsertStock(ctx, next); err != nil {
		return Posting{}, err
	}
	mv, err := tx.AppendMovement(ctx, Movement{
		VariantID:   input.VariantID,
		WarehouseID: input.WarehouseID,
		Sequence:    next.Version,
		Reason:      input.Reason,
		Delta:       delta,
		QtyBefore:   current.Quantity,
		QtyAfter:    next.Quantity,
		Ref:         input.Ref,
		ActorID:     shared.ActorID(ctx),
		Note:        input.Note,
	})
	if err != nil {
		return Posting{}, err
	}
	return Posting{Stock: next, Movement: mv}, nil
}

// RecordInventoryLog appends a goods-in-motion record inside the caller's
// transaction.
func (s *Service) RecordInventoryLog(ctx context.Context, tx TxRepository, log InventoryLog) (InventoryLog, error) {
	switch log.Type {
	case LogTypeIn, LogTypeOut, LogTypeTransfer:
	default:
		return InventoryLog{}, fmt.Errorf("%w: unknown inventory log type %q", shared.ErrValidation, log.Type)
	}
	switch log.Status {
	case LogStatusReceived, LogStatusInTransit, LogStatusArrived, LogStatusCancelled:
	default:
		return InventoryLog{}, fmt.Errorf("%w: unknown inventory log status %q", shared.ErrValidation, log.Status)
	}
	if log.Qty <= 0 {
		return InventoryLog{}, ErrInvalidQuantity
	}
	return tx.AppendInventoryLog(ctx, log)
}

// Committed runs the post-commit side effects for postings: metrics and
// movement events. Failures are logged and never reach the caller.
func (s *Service) Committed(ctx context.Context, postings ...Posting) {
	if len(postings) == 0 {
		return
	}
	evts := make([]events.Event, 0, len(postings))
	for _, p := range postings {
		if s.metrics != nil {
			s.metrics.MovementCommitted(string(p.Movement.Reason), p.Movement.Delta)
		}
		evt, err := events.NewEvent(events.TypeStockMovement, pairKey(p.Stock.VariantID, p.Stock.WarehouseID), p)
		if err != nil {
			s.logger.Warn("ledger event encode", slog.Any("error", err))
			continue
		}
		evts = append(evts, evt)
	}
	if err := s.publisher.Publish(ctx, evts...); err != nil {
		if s.metrics != nil {
			s.metrics.SideEffectFailed("event")
		}
		s.logger.Warn("ledger event publish", slog.Int("events", len(evts)), slog.Any("error", err))
	}
}

// Adjust corrects a stock row by a signed delta with reason adjustment.
func (s *Service) Adjust(ctx context.Context, input AdjustmentInput) (Posting, error) {
	if err := shared.RequireRole(ctx, shared.RoleElevated); err != nil {
		return Posting{}, err
	}
	if err := shared.Validate(input); err != nil {
		return Posting{}, err
	}
	if err := s.checkRefs(ctx, input.VariantID, input.WarehouseID, false); err != nil {
		return Posting{}, err
	}
	qty := input.Delta
	if qty < 0 {
		qty = -qty
	}
	posting := PostingInput{
		VariantID:   input.VariantID,
		WarehouseID: input.WarehouseID,
		Qty:         qty,
		Reason:      ReasonAdjustment,
		Ref:         RelatedOrder{Type: RefAdjustment},
		Note:        input.Note,
	}
	var result Posting
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if input.Delta > 0 {
			result, err = s.Credit(ctx, tx, posting)
		} else {
			result, err = s.Debit(ctx, tx, posting)
		}
		return err
	})
	if err != nil {
		return Posting{}, err
	}
	s.Committed(ctx, result)
	return result, nil
}

// Transfer moves stock between two warehouses in one transaction: a
// transfer-outbound debit at the source and a transfer-inbound credit at the
// destination.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	if err := shared.RequireRole(ctx, shared.RoleMutate); err != nil {
		return TransferResult{}, err
	}
	if err := shared.Validate(input); err != nil {
		return TransferResult{}, err
	}
	if err := s.checkRefs(ctx, input.VariantID, input.FromWarehouseID, true); err != nil {
		return TransferResult{}, err
	}
	if err := s.checkRefs(ctx, input.VariantID, input.ToWarehouseID, true); err != nil {
		return TransferResult{}, err
	}
	ref := RelatedOrder{Type: RefTransfer, Number: fmt.Sprintf("TRF-%d-%d", input.FromWarehouseID, input.ToWarehouseID)}
	var result TransferResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// lock both rows in warehouse id order so opposite transfers cannot deadlock
		first, second := input.FromWarehouseID, input.ToWarehouseID
		if second < first {
			first, second = second, first
		}
		for _, wh := range []int64{first, second} {
			if _, err := tx.GetStockForUpdate(ctx, input.VariantID, wh); err != nil && !errors.Is(err, ErrStockNotFound) {
				return err
			}
		}
		out, err := s.Debit(ctx, tx, PostingInput{
			VariantID: input.VariantID, WarehouseID: input.FromWarehouseID, Qty: input.Qty,
			Reason: ReasonTransferOutbound, Ref: ref, Note: input.Note,
		})
		if err != nil {
			return err
		}
		in, err := s.Credit(ctx, tx, PostingInput{
			VariantID: input.VariantID, WarehouseID: input.ToWarehouseID, Qty: input.Qty,
			Reason: ReasonTransferInbound, Ref: ref, Note: input.Note,
		})
		if err != nil {
			return err
		}
		result = TransferResult{Out: out, In: in}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	s.Committed(ctx, result.Out, result.In)
	return result, nil
}

func (s *Service) checkRefs(ctx context.Context, variantID, warehouseID int64, requireActive bool) error {
	if s.variants != nil {
		if _, err := s.variants.GetVariant(ctx, variantID); err != nil {
			return err
		}
	}
	if s.warehouses == nil {
		return nil
	}
	if requireActive {
		_, err := warehouses.RequireActive(ctx, s.warehouses, warehouseID)
		return err
	}
	_, err := s.warehouses.GetWarehouse(ctx, warehouseID)
	return err
}

// GetStock returns the stock row for a pair.
func (s *Service) GetStock(ctx context.Context, variantID, warehouseID int64) (Stock, error) {
	if err := shared.RequireRole(ctx, shared.RoleRead); err != nil {
		return Stock{}, err
	}
	return s.repo.GetStock(ctx, variantID, warehouseID)
}

// ListStock lists stock rows.
func (s *Service) ListStock(ctx context.Context, filter StockFilter) ([]Stock, error) {
	if err := shared.RequireRole(ctx, shared.RoleRead); err != nil {
		return nil, err
	}
	filter.Page = filter.Page.Normalize()
	return s.repo.ListStock(ctx, filter)
}

// ListMovements lists movement log entries.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if err := shared.RequireRole(ctx, shared.RoleRead); err != nil {
		return nil, err
	}
	if filter.Reason != "" && !filter.Reason.IsValid() {
		return nil, fmt.Errorf("%w: unknown movement reason %q", shared.ErrValidation, filter.Reason)
	}
	filter.Page = filter.Page.Normalize()
	return s.repo.ListMovements(ctx, filter)
}

// ListInventoryLogs lists goods-in-motion records.
func (s *Service) ListInventoryLogs(ctx context.Context, filter InventoryLogFilter) ([]InventoryLog, error) {
	if err := shared.RequireRole(ctx, shared.RoleRead); err != nil {
		return nil, err
	}
	filter.Page = filter.Page.Normalize()
	return s.repo.ListInventoryLogs(ctx, filter)
}

func pairKey(variantID, warehouseID int64) string {
	return strconv.FormatInt(variantID, 10) + ":" + strconv.FormatInt(warehouseID, 10)
}
