package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/hospital-operations/internal/access"
	"github.com/hackgods/hospital-operations/internal/apperr"
	"github.com/hackgods/hospital-operations/internal/audit"
	"github.com/hackgods/hospital-operations/internal/billing"
	"github.com/hackgods/hospital-operations/internal/config"
	"github.com/hackgods/hospital-operations/internal/db"
)

const (
	EventStockDispensed = "stock.dispensed"
	EventBatchReceived  = "stock.batch_received"

	aggregateItem  = "pharmacy_item"
	tableBatches   = "pharmacy_batches"
	tableMovements = "stock_movements"

	defaultMovementLimit = 100
	maxMovementLimit     = 1000
)

// Biller amends an already issued invoice with a dispensed line.
type Biller interface {
	AddMedicationLine(ctx context.Context, visitID int64, line billing.LineInput, actor int64) (*billing.Invoice, error)
}

type Service struct {
	repo   Repository
	tx     db.TxRunner
	auth   access.Authorizer
	sink   audit.Recorder
	biller Biller
	policy config.StockPolicy
	logger *zap.Logger
	now    func() time.Time
}

func NewService(repo Repository, tx db.TxRunner, auth access.Authorizer, sink audit.Recorder, biller Biller, policy config.StockPolicy, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		tx:     tx,
		auth:   auth,
		sink:   sink,
		biller: biller,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) today() time.Time { return db.DateOnly(s.now()) }

// Dispense issues qty units of a prescribed item from its batches in FEFO
// order. The whole allocation commits or nothing does, and each prescription
// line can be dispensed once.
func (s *Service) Dispense(ctx context.Context, prescriptionID, itemID int64, qty int, actor int64) (*DispenseResult, error) {
	if err := s.auth.Require(ctx, actor, access.CapDispense); err != nil {
		return nil, err
	}
	if prescriptionID <= 0 || itemID <= 0 {
		return nil, apperr.ErrInvalidInput
	}
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}
	today := s.today()

	var result *DispenseResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		line, err := s.repo.LockPrescriptionLine(ctx, prescriptionID, itemID)
		if err != nil {
			return err
		}
		if qty > line.Quantity {
			return ErrExceedsPrescribed.WithMessage(
				fmt.Sprintf("cannot dispense %d, only %d prescribed", qty, line.Quantity))
		}
		done, err := s.repo.HasOutMovement(ctx, RefPrescription, prescriptionID, itemID)
		if err != nil {
			return err
		}
		if done {
			return ErrAlreadyDispensed
		}

		batches, err := s.repo.LockUsableBatches(ctx, itemID, today)
		if err != nil {
			return err
		}
		plan, err := PlanFEFO(batches, today, qty)
		if err != nil {
			return err
		}

		actorRef := &actor
		price := line.UnitPrice
		for _, a := range plan {
			remaining, err := s.repo.DecrementBatch(ctx, a.BatchID, a.Quantity)
			if err != nil {
				return err
			}
			if _, err := s.repo.InsertMovement(ctx, Movement{
				ItemID: itemID, BatchID: a.BatchID, Quantity: a.Quantity, Direction: DirectionOut,
				ReferenceType: RefPrescription, ReferenceID: prescriptionID, ActorID: actorRef,
				UnitPrice: &price,
			}); err != nil {
				return err
			}
			if err := s.sink.Record(ctx, audit.Change{
				Actor: actor, Action: audit.ActionUpdate, Table: tableBatches, RecordID: a.BatchID,
				Field: "quantity", Old: remaining + a.Quantity, New: remaining,
			}); err != nil {
				return err
			}
		}

		inv, err := s.biller.AddMedicationLine(ctx, line.VisitID, billing.LineInput{
			Kind:        billing.LineMedication,
			ReferenceID: itemID,
			Description: line.ItemName,
			UnitPrice:   price,
			Quantity:    qty,
		}, actor)
		if err != nil {
			return err
		}

		left := 0
		for _, b := range batches {
			left += b.Quantity
		}
		left -= qty
		level := Classify(left, s.policy)

		result = &DispenseResult{
			PrescriptionID: prescriptionID,
			ItemID:         itemID,
			Quantity:       qty,
			Allocations:    plan,
			StockLeft:      left,
			Level:          level,
		}
		if inv != nil {
			result.InvoiceID = &inv.ID
		}

		if level == LevelCritical {
			msg := fmt.Sprintf("%s is at a critical level: %d left", line.ItemName, left)
			if err := s.sink.NotifyRole(ctx, access.RolePharmacist, msg); err != nil {
				return err
			}
		}
		return s.sink.Emit(ctx, audit.Event{
			Aggregate: aggregateItem, AggregateID: itemID, Type: EventStockDispensed,
			Payload: map[string]any{
				"prescription_id": prescriptionID,
				"visit_id":        line.VisitID,
				"quantity":        qty,
				"batches":         len(plan),
				"stock_left":      left,
			},
		})
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			s.logger.Info("dispense rejected",
				zap.Int64("prescription_id", prescriptionID),
				zap.Int64("item_id", itemID),
				zap.Int("quantity", qty),
				zap.Error(err),
			)
		}
		return nil, err
	}
	return result, nil
}

// ReceiveBatch books a new delivery into stock with an IN movement.
func (s *Service) ReceiveBatch(ctx context.Context, req ReceiveRequest, actor int64) (*Batch, error) {
	if err := s.auth.Require(ctx, actor, access.CapReceiveStock); err != nil {
		return nil, err
	}
	req.BatchNumber = strings.TrimSpace(req.BatchNumber)
	req.Supplier = strings.TrimSpace(req.Supplier)
	if req.BatchNumber == "" {
		return nil, ErrMissingBatchNumber
	}
	if req.ItemID <= 0 || req.ExpiryDate.IsZero() {
		return nil, apperr.ErrInvalidInput
	}
	if req.Quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	req.ExpiryDate = db.DateOnly(req.ExpiryDate)
	if req.ExpiryDate.Before(s.today()) {
		return nil, ErrExpiredBatch
	}

	var created *Batch
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		item, err := s.repo.GetItem(ctx, req.ItemID)
		if err != nil {
			return err
		}
		b, err := s.repo.InsertBatch(ctx, req)
		if err != nil {
			return err
		}
		created = b

		m, err := s.repo.InsertMovement(ctx, Movement{
			ItemID: req.ItemID, BatchID: b.ID, Quantity: req.Quantity, Direction: DirectionIn,
			ReferenceType: RefBatchReceipt, ReferenceID: b.ID, ActorID: &actor,
		})
		if err != nil {
			return err
		}
		if err := s.sink.Record(ctx,
			audit.Change{
				Actor: actor, Action: audit.ActionInsert, Table: tableBatches, RecordID: b.ID,
				Field: "quantity", New: b.Quantity,
			},
			audit.Change{
				Actor: actor, Action: audit.ActionInsert, Table: tableMovements, RecordID: m.ID,
				Field: "quantity", New: m.Quantity,
			},
		); err != nil {
			return err
		}
		return s.sink.Emit(ctx, audit.Event{
			Aggregate: aggregateItem, AggregateID: item.ID, Type: EventBatchReceived,
			Payload: map[string]any{
				"batch_id":     b.ID,
				"batch_number": b.BatchNumber,
				"quantity":     b.Quantity,
				"expiry_date":  b.ExpiryDate.Format(time.DateOnly),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Service) ListItems(ctx context.Context, actor int64) ([]Item, error) {
	if err := s.auth.Require(ctx, actor, access.CapViewInventory); err != nil {
		return nil, err
	}
	return s.repo.ListItems(ctx)
}

func (s *Service) StockLevel(ctx context.Context, itemID, actor int64) (*StockLevel, error) {
	if err := s.auth.Require(ctx, actor, access.CapViewInventory); err != nil {
		return nil, err
	}
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	available, err := s.repo.AvailableStock(ctx, itemID, s.today())
	if err != nil {
		return nil, err
	}
	return &StockLevel{
		ItemID:    item.ID,
		Name:      item.Name,
		Unit:      item.Unit,
		Available: available,
		Level:     Classify(available, s.policy),
	}, nil
}

func (s *Service) levels(ctx context.Context) ([]StockLevel, error) {
	stock, err := s.repo.StockByItem(ctx, s.today())
	if err != nil {
		return nil, err
	}
	out := make([]StockLevel, 0, len(stock))
	for _, st := range stock {
		out = append(out, StockLevel{
			ItemID:    st.ID,
			Name:      st.Name,
			Unit:      st.Unit,
			Available: st.Available,
			Expired:   st.Expired,
			Level:     Classify(st.Available, s.policy),
		})
	}
	return out, nil
}

// StockAlerts lists every item with its derived level, CRITICAL first.
func (s *Service) StockAlerts(ctx context.Context, actor int64) ([]StockLevel, error) {
	if err := s.auth.Require(ctx, actor, access.CapViewInventory); err != nil {
		return nil, err
	}
	all, err := s.levels(ctx)
	if err != nil {
		return nil, err
	}
	var out []StockLevel
	for _, lvl := range []Level{LevelCritical, LevelLow, LevelHealthy} {
		for _, st := range all {
			if st.Level == lvl {
				out = append(out, st)
			}
		}
	}
	return out, nil
}

func (s *Service) batchStates(ctx context.Context, itemID *int64) ([]BatchStatus, error) {
	rows, err := s.repo.ListBatches(ctx, itemID)
	if err != nil {
		return nil, err
	}
	today := s.today()
	for i := range rows {
		rows[i].State, rows[i].DaysToExpiry = StateOf(rows[i].Batch, today, s.policy.ExpiryWarningDays)
	}
	return rows, nil
}

func (s *Service) BatchStatus(ctx context.Context, f BatchFilter, actor int64) ([]BatchStatus, error) {
	if err := s.auth.Require(ctx, actor, access.CapViewInventory); err != nil {
		return nil, err
	}
	if f.State != nil {
		switch *f.State {
		case BatchOK, BatchExpiringSoon, BatchExpired, BatchDepleted:
		default:
			return nil, ErrInvalidBatchState
		}
	}
	rows, err := s.batchStates(ctx, f.ItemID)
	if err != nil {
		return nil, err
	}
	if f.State == nil {
		return rows, nil
	}
	out := rows[:0]
	for _, r := range rows {
		if r.State == *f.State {
			out = append(out, r)
		}
	}
	return out, nil
}

// ExpiringBatches returns non-empty batches that are still usable today but
// expire within the given number of days.
func (s *Service) ExpiringBatches(ctx context.Context, withinDays int, actor int64) ([]BatchStatus, error) {
	if err := s.auth.Require(ctx, actor, access.CapViewInventory); err != nil {
		return nil, err
	}
	if withinDays < 0 {
		return nil, apperr.ErrInvalidInput
	}
	rows, err := s.batchStates(ctx, nil)
	if err != nil {
		return nil, err
	}
	var out []BatchStatus
	for _, r := range rows {
		if r.State == BatchExpired || r.State == BatchDepleted {
			continue
		}
		if r.DaysToExpiry <= withinDays {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Service) Movements(ctx context.Context, itemID int64, limit int, actor int64) ([]Movement, error) {
	if err := s.auth.Require(ctx, actor, access.CapViewInventory); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultMovementLimit
	case limit > maxMovementLimit:
		limit = maxMovementLimit
	}
	return s.repo.ListMovements(ctx, itemID, limit)
}
