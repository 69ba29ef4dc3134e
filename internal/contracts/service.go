package contracts

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/goodsflow/internal/shared"
)

// TxRepository exposes transactional contract operations. The inbound
// pipeline obtains one bound to its own transaction to draw pickups.
type TxRepository interface {
	InsertContract(ctx context.Context, c Contract) (int64, error)
	InsertContractItem(ctx context.Context, item Item) (int64, error)
	GetContractForUpdate(ctx context.Context, id int64) (Contract, error)
	UpdateContractStatus(ctx context.Context, id int64, status Status) error
	UpdateContractItemQty(ctx context.Context, itemID, picked, finished int64) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetContract(ctx context.Context, id int64) (Contract, error)
	ListContracts(ctx context.Context, filter ListFilter) ([]Contract, error)
}

// Config toggles contract policy.
type Config struct {
	// ApprovalRequired starts new contracts in pending-approval.
	ApprovalRequired bool
}

// Service implements the contract and pickup tracker.
type Service struct {
	repo   RepositoryPort
	cfg    Config
	audit  shared.AuditPort
	logger *slog.Logger
}

// NewService constructs the contract service.
func NewService(repo RepositoryPort, cfg Config, audit shared.AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cfg: cfg, audit: audit, logger: logger}
}

// CreateContract validates lines, computes amounts and stores the contract
// with zero picked and finished quantities.
func (s *Service) CreateContract(ctx context.Context, input CreateInput) (Contract, error) {
	if err := shared.RequireRole(ctx, shared.RoleMutate); err != nil {
		return Contract{}, err
	}
	if err := shared.Validate(input); err != nil {
		return Contract{}, err
	}
	if input.DepositRate.IsNegative() || input.DepositRate.GreaterThan(decimal.NewFromInt(1)) {
		return Contract{}, fmt.Errorf("%w: deposit rate must be between 0 and 1", shared.ErrValidation)
	}
	contract := Contract{
		Number:       strings.TrimSpace(input.Number),
		Counterparty: strings.TrimSpace(input.Counterparty),
		Currency:     strings.ToUpper(input.Currency),
		DepositRate:  input.DepositRate,
		Status:       StatusPendingShipment,
		Note:         input.Note,
		SignedAt:     input.SignedAt,
		CreatedBy:    shared.ActorID(ctx),
	}
	if contract.Number == "" {
		contract.Number = shared.NewDocumentNumber("CT")
	}
	if contract.Currency == "" {
		contract.Currency = "USD"
	}
	if s.cfg.ApprovalRequired {
		contract.Status = StatusPendingApproval
	}
	total := decimal.Zero
	for i, in := range input.Items {
		if !in.UnitPrice.IsPositive() {
			return Contract{}, fmt.Errorf("%w: item %d unit price must be positive", shared.ErrValidation, i+1)
		}
		item := Item{
			LineNo:     i + 1,
			VariantID:  in.VariantID,
			SKU:        strings.TrimSpace(in.SKU),
			UnitPrice:  in.UnitPrice,
			OrderedQty: in.Qty,
		}
		total = total.Add(item.Amount())
		contract.Items = append(contract.Items, item)
	}
	contract.TotalAmount = total
	contract.DepositAmount = total.Mul(input.DepositRate).Round(4)

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertContract(ctx, contract)
		if err != nil {
			return err
		}
		contract.ID = id
		for i := range contract.Items {
			contract.Items[i].ContractID = id
			itemID, err := tx.InsertContractItem(ctx, contract.Items[i])
			if err != nil {
				return err
			}
			contract.Items[i].ID = itemID
		}
		return nil
	})
	if err != nil {
		return Contract{}, err
	}
	s.record(ctx, "contract.create", contract.ID, map[string]any{"number": contract.Number, "status": contract.Status, "total": contract.TotalAmount.String()})
	return s.repo.GetContract(ctx, contract.ID)
}

// Approve resolves a pending-approval contract.
func (s *Service) Approve(ctx context.Context, id int64, input DecisionInput) (Contract, error) {
	if err := shared.RequireRole(ctx, shared.RoleElevated); err != nil {
		return Contract{}, err
	}
	if err := shared.Validate(input); err != nil {
		return Contract{}, err
	}
	next := StatusPendingShipment
	if input.Decision == DecisionReject {
		next = StatusCancelled
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.GetContractForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if c.Status != StatusPendingApproval {
			return fmt.Errorf("%w: contract %s is %s, not awaiting approval", ErrInvalidTransition, c.Number, c.Status)
		}
		return tx.UpdateContractStatus(ctx, id, next)
	})
	if err != nil {
		return Contract{}, err
	}
	s.record(ctx, "contract."+string(input.Decision), id, map[string]any{"note": input.Note})
	return s.repo.GetContract(ctx, id)
}

// RecordPickup draws allocations in a transaction of its own.
func (s *Service) RecordPickup(ctx context.Context, id int64, allocations []Allocation) (Contract, error) {
	if err := shared.RequireRole(ctx, shared.RoleMutate); err != nil {
		return Contract{}, err
	}
	var result Contract
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.ApplyPickup(ctx, tx, id, allocations)
		return err
	})
	if err != nil {
		return Contract{}, err
	}
	return result, nil
}

// ApplyPickup increases picked quantities inside the caller's transaction and
// recomputes the contract status. Any allocation above its item's remaining
// quantity rejects the whole call.
func (s *Service) ApplyPickup(ctx context.Context, tx TxRepository, id int64, allocations []Allocation) (Contract, error) {
	return s.shiftPicked(ctx, tx, id, allocations, 1)
}

// ReleasePickup returns picked quantities inside the caller's transaction.
// A line can never release below its finished quantity.
func (s *Service) ReleasePickup(ctx context.Context, tx TxRepository, id int64, allocations []Allocation) (Contract, error) {
	return s.shiftPicked(ctx, tx, id, allocations, -1)
}

func (s *Service) shiftPicked(ctx context.Context, tx TxRepository, id int64, allocations []Allocation, sign int64) (Contract, error) {
	if len(allocations) == 0 {
		return Contract{}, fmt.Errorf("%w: at least one allocation required", shared.ErrValidation)
	}
	for _, a := range allocations {
		if err := shared.Validate(a); err != nil {
			return Contract{}, err
		}
	}
	c, err := tx.GetContractForUpdate(ctx, id)
	if err != nil {
		return Contract{}, err
	}
	if !c.Status.acceptsPickups() {
		return Contract{}, fmt.Errorf("%w: contract %s is %s", ErrInvalidTransition, c.Number, c.Status)
	}
	index := make(map[int64]int, len(c.Items))
	for i, it := range c.Items {
		index[it.ID] = i
	}
	for _, a := range allocations {
		i, ok := index[a.ItemID]
		if !ok {
			return Contract{}, fmt.Errorf("%w (item %d, contract %d)", ErrItemNotFound, a.ItemID, id)
		}
		item := &c.Items[i]
		picked := item.PickedQty + sign*a.Qty
		if picked > item.OrderedQty {
			return Contract{}, fmt.Errorf("%w: line %d has %d remaining, %d requested", ErrOverPick, item.LineNo, item.Remaining(), a.Qty)
		}
		if picked < item.FinishedQty {
			return Contract{}, fmt.Errorf("%w: line %d cannot release below finished quantity %d", shared.ErrValidation, item.LineNo, item.FinishedQty)
		}
		item.PickedQty = picked
	}
	for _, a := range allocations {
		item := c.Items[index[a.ItemID]]
		if err := tx.UpdateContractItemQty(ctx, item.ID, item.PickedQty, item.FinishedQty); err != nil {
			return Contract{}, err
		}
	}
	next := DeriveStatus(c.Status, c.TotalPicked(), c.TotalOrdered())
	if next != c.Status {
		if !CanTransition(c.Status, next) {
			return Contract{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, next)
		}
		if err := tx.UpdateContractStatus(ctx, id, next); err != nil {
			return Contract{}, err
		}
		c.Status = next
	}
	return c, nil
}

// RecordFinished adds received quantity to a line inside the caller's
// transaction. Finished never exceeds picked.
func (s *Service) RecordFinished(ctx context.Context, tx TxRepository, contractID, itemID, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: finished quantity must be positive", shared.ErrValidation)
	}
	c, err := tx.GetContractForUpdate(ctx, contractID)
	if err != nil {
		return err
	}
	item, ok := c.Item(itemID)
	if !ok {
		return fmt.Errorf("%w (item %d, contract %d)", ErrItemNotFound, itemID, contractID)
	}
	if item.FinishedQty+qty > item.PickedQty {
		return fmt.Errorf("%w: line %d finished %d + %d exceeds picked %d", shared.ErrValidation, item.LineNo, item.FinishedQty, qty, item.PickedQty)
	}
	return tx.UpdateContractItemQty(ctx, itemID, item.PickedQty, item.FinishedQty+qty)
}

// Cancel moves any non-terminal contract to cancelled.
func (s *Service) Cancel(ctx context.Context, id int64, reason string) (Contract, error) {
	return s.moveTo(ctx, id, StatusCancelled, "contract.cancel", reason)
}

// Settle closes a fully shipped contract.
func (s *Service) Settle(ctx context.Context, id int64) (Contract, error) {
	return s.moveTo(ctx, id, StatusSettled, "contract.settle", "")
}

func (s *Service) moveTo(ctx context.Context, id int64, next Status, action, note string) (Contract, error) {
	if err := shared.RequireRole(ctx, shared.RoleElevated); err != nil {
		return Contract{}, err
	}
	var from Status
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.GetContractForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(c.Status, next) {
			return fmt.Errorf("%w: contract %s cannot move from %s to %s", ErrInvalidTransition, c.Number, c.Status, next)
		}
		from = c.Status
		return tx.UpdateContractStatus(ctx, id, next)
	})
	if err != nil {
		return Contract{}, err
	}
	s.record(ctx, action, id, map[string]any{"from": from, "to": next, "note": note})
	return s.repo.GetContract(ctx, id)
}

// Get returns a contract with its items.
func (s *Service) Get(ctx context.Context, id int64) (Contract, error) {
	if err := shared.RequireRole(ctx, shared.RoleRead); err != nil {
		return Contract{}, err
	}
	return s.repo.GetContract(ctx, id)
}

// List returns contracts matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Contract, error) {
	if err := shared.RequireRole(ctx, shared.RoleRead); err != nil {
		return nil, err
	}
	if filter.Status != "" {
		if _, err := ParseStatus(string(filter.Status)); err != nil {
			return nil, err
		}
	}
	filter.Page = filter.Page.Normalize()
	return s.repo.ListContracts(ctx, filter)
}

func (s *Service) record(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "contract", EntityID: strconv.FormatInt(id, 10), Meta: meta}); err != nil {
		s.logger.Warn("contract audit", slog.String("action", action), slog.Int64("contract_id", id), slog.Any("error", err))
	}
}
