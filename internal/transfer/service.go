// Package transfer confirms the arrival of outbound batches and credits the
// destination warehouse exactly once.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/odyssey-erp/goodsflow/internal/ledger"
	"github.com/odyssey-erp/goodsflow/internal/outbound"
	"github.com/odyssey-erp/goodsflow/internal/platform/events"
	"github.com/odyssey-erp/goodsflow/internal/platform/tracing"
	"github.com/odyssey-erp/goodsflow/internal/shared"
	"github.com/odyssey-erp/goodsflow/internal/warehouses"
)

// ErrAlreadyConfirmed is returned for every confirmation after the first.
var ErrAlreadyConfirmed = fmt.Errorf("%w: arrival already confirmed", shared.ErrInvalidTransition)

// TxRepository exposes one arrival transaction.
type TxRepository interface {
	// ClaimArrival sets the batch's arrival marker if it is still empty and
	// reports whether this call set it.
	ClaimArrival(ctx context.Context, batchID int64, at time.Time) (bool, error)

	Outbound() outbound.TxRepository
	Ledger() ledger.TxRepository
	Warehouses() warehouses.Reader
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Metrics receives arrival counters.
type Metrics interface {
	ArrivalConfirmation(result string)
	SideEffectFailed(kind string)
}

// ConfirmInput identifies the batch and where it arrived. A zero destination
// falls back to the order's destination warehouse.
type ConfirmInput struct {
	BatchID                int64      `json:"-" validate:"required,gt=0"`
	DestinationWarehouseID int64      `json:"destination_warehouse_id" validate:"omitempty,gt=0"`
	ActualArrivalAt        *time.Time `json:"actual_arrival_at"`
}

// Result is the state after a confirmation.
type Result struct {
	Batch   outbound.Batch `json:"batch"`
	Posting ledger.Posting `json:"posting"`
}

// Service is the arrival confirmer.
type Service struct {
	repo      RepositoryPort
	ledger    *ledger.Service
	publisher events.Publisher
	metrics   Metrics
	audit     shared.AuditPort
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewService wires the confirmer.
func NewService(repo RepositoryPort, ledgerSvc *ledger.Service, publisher events.Publisher, metrics Metrics, audit shared.AuditPort, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledgerSvc, publisher: publisher, metrics: metrics, audit: audit, logger: logger, tracer: tracing.Tracer()}
}

// ConfirmArrival credits the destination with the batch quantity. The marker
// check, the credit and the batch update share one transaction, so a retried
// request can never credit twice.
func (s *Service) ConfirmArrival(ctx context.Context, input ConfirmInput) (_ Result, err error) {
	if err := shared.RequireRole(ctx, shared.RoleMutate); err != nil {
		return Result{}, err
	}
	if err := shared.Validate(input); err != nil {
		return Result{}, err
	}
	ctx, span := s.tracer.Start(ctx, "transfer.confirm_arrival", trace.WithAttributes(
		attribute.Int64("outbound_batch_id", input.BatchID),
		attribute.Int64("destination_warehouse_id", input.DestinationWarehouseID),
	))
	defer tracing.End(span, &err)

	var result Result
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.Outbound().GetOutboundBatchForUpdate(ctx, input.BatchID)
		if err != nil {
			return err
		}
		if b.ArrivalConfirmedAt != nil {
			return fmt.Errorf("%w: batch %s at %s", ErrAlreadyConfirmed, b.Number, b.ArrivalConfirmedAt.Format(time.RFC3339))
		}
		if b.Status == outbound.BatchCancelled {
			return fmt.Errorf("%w: batch %s is cancelled", outbound.ErrInvalidTransition, b.Number)
		}
		dest := input.DestinationWarehouseID
		if dest == 0 {
			order, err := tx.Outbound().GetOutboundOrderForUpdate(ctx, b.OrderID)
			if err != nil {
				return err
			}
			dest = order.DestinationWarehouseID
		}
		if dest == 0 {
			return fmt.Errorf("%w: destination warehouse required", shared.ErrValidation)
		}
		if dest == b.WarehouseID {
			return fmt.Errorf("%w: destination must differ from source warehouse %d", shared.ErrValidation, b.WarehouseID)
		}
		if _, err := warehouses.RequireActive(ctx, tx.Warehouses(), dest); err != nil {
			return err
		}

		now := time.Now().UTC()
		claimed, err := tx.ClaimArrival(ctx, b.ID, now)
		if err != nil {
			return err
		}
		if !claimed {
			return fmt.Errorf("%w: batch %s", ErrAlreadyConfirmed, b.Number)
		}
		ref := ledger.RelatedOrder{Type: ledger.RefOutboundBatch, ID: b.ID, Number: b.Number}
		posting, err := s.ledger.Credit(ctx, tx.Ledger(), ledger.PostingInput{
			VariantID:   b.VariantID,
			WarehouseID: dest,
			Qty:         b.Qty,
			Reason:      ledger.ReasonTransferInbound,
			Ref:         ref,
		})
		if err != nil {
			return err
		}

		b.ArrivalConfirmedAt = &now
		b.Status = outbound.BatchArrived
		b.ArrivalWarehouseID = dest
		if b.ActualArrivalAt == nil {
			arrived := now
			if input.ActualArrivalAt != nil {
				arrived = input.ActualArrivalAt.UTC()
			}
			b.ActualArrivalAt = &arrived
		}
		b.Logistics.LastEvent = string(outbound.BatchArrived)
		b.Logistics.LastEventAt = &now
		if err := tx.Outbound().UpdateOutboundBatch(ctx, b); err != nil {
			return err
		}
		if _, err := s.ledger.RecordInventoryLog(ctx, tx.Ledger(), ledger.InventoryLog{
			Type:            ledger.LogTypeTransfer,
			Status:          ledger.LogStatusArrived,
			VariantID:       b.VariantID,
			FromWarehouseID: b.WarehouseID,
			ToWarehouseID:   dest,
			Qty:             b.Qty,
			Ref:             ref,
		}); err != nil {
			return err
		}
		result = Result{Batch: b, Posting: posting}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyConfirmed) {
			s.count("duplicate")
		}
		return Result{}, err
	}
	s.count("confirmed")
	s.ledger.Committed(ctx, result.Posting)
	s.publish(ctx, result.Batch)
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			Action: "outbound_batch.arrival", Entity: "outbound_batch", EntityID: strconv.FormatInt(result.Batch.ID, 10),
			Meta: map[string]any{"warehouse_id": result.Batch.ArrivalWarehouseID, "qty": result.Batch.Qty},
		}); err != nil {
			s.logger.Warn("arrival audit", slog.Int64("batch_id", result.Batch.ID), slog.Any("error", err))
		}
	}
	return result, nil
}

func (s *Service) count(result string) {
	if s.metrics != nil {
		s.metrics.ArrivalConfirmation(result)
	}
}

func (s *Service) publish(ctx context.Context, b outbound.Batch) {
	evt, err := events.NewEvent(events.TypeArrivalConfirmed, strconv.FormatInt(b.ID, 10), b)
	if err == nil {
		err = s.publisher.Publish(ctx, evt)
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.SideEffectFailed("event")
		}
		s.logger.Warn("arrival event publish", slog.Int64("batch_id", b.ID), slog.Any("error", err))
	}
}
