package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-operations/internal/access"
	"github.com/hackgods/hospital-operations/internal/audit"
	"github.com/hackgods/hospital-operations/internal/db"
)

const (
	EventInvoiceIssued   = "invoice.issued"
	EventInvoiceAmended  = "invoice.amended"
	EventPaymentRecorded = "payment.recorded"
	EventInvoicePaid     = "invoice.paid"

	aggregateInvoice = "invoice"
	tableInvoices    = "patient_invoices"
	tablePayments    = "payments"

	defaultTrackerLimit = 200
)

type Service struct {
	repo   Repository
	tx     db.TxRunner
	auth   access.Authorizer
	sink   audit.Recorder
	logger *zap.Logger
}

func NewService(repo Repository, tx db.TxRunner, auth access.Authorizer, sink audit.Recorder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, tx: tx, auth: auth, sink: sink, logger: logger}
}

func validateLines(lines []LineInput) error {
	for _, l := range lines {
		if l.Kind != LineService && l.Kind != LineMedication {
			return ErrInvalidLine
		}
		if l.Quantity < 1 || l.UnitPrice.IsNegative() {
			return ErrInvalidLine
		}
	}
	return nil
}

// CreateInvoice bills a finished visit. It joins the caller's transaction so
// the invoice commits together with the visit completion.
func (s *Service) CreateInvoice(ctx context.Context, visitID int64, lines []LineInput, actor int64) (*Invoice, error) {
	if err := validateLines(lines); err != nil {
		return nil, err
	}
	total := Total(lines)

	var created *Invoice
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		inv, err := s.repo.CreateInvoice(ctx, visitID, total)
		if err != nil {
			return err
		}
		created = inv

		if err := s.repo.InsertLines(ctx, inv.ID, lines); err != nil {
			return err
		}
		if err := s.sink.Record(ctx, audit.Change{
			Actor: actor, Action: audit.ActionInsert, Table: tableInvoices, RecordID: inv.ID,
			Field: "total_amount", New: total.StringFixed(2),
		}); err != nil {
			return err
		}
		if err := s.sink.Emit(ctx, audit.Event{
			Aggregate: aggregateInvoice, AggregateID: inv.ID, Type: EventInvoiceIssued,
			Payload: map[string]any{"visit_id": visitID, "total": total.StringFixed(2), "lines": len(lines)},
		}); err != nil {
			return err
		}

		// Nothing is due, so the invoice is settled on issue.
		if total.IsZero() {
			return s.settleEmpty(ctx, inv, actor)
		}
		msg := fmt.Sprintf("Invoice #%d issued for visit #%d: %s due", inv.ID, visitID, total.StringFixed(2))
		return s.sink.NotifyRole(ctx, access.RoleFinance, msg)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Service) settleEmpty(ctx context.Context, inv *Invoice, actor int64) error {
	if err := s.repo.MarkPaid(ctx, inv.ID); err != nil {
		return err
	}
	if err := s.sink.Record(ctx, audit.Change{
		Actor: actor, Action: audit.ActionUpdate, Table: tableInvoices, RecordID: inv.ID,
		Field: "status", Old: inv.Status, New: StatusPaid,
	}); err != nil {
		return err
	}
	inv.Status = StatusPaid
	return s.sink.Emit(ctx, audit.Event{
		Aggregate: aggregateInvoice, AggregateID: inv.ID, Type: EventInvoicePaid,
		Payload: map[string]any{"total": inv.Total.StringFixed(2)},
	})
}

// AddMedicationLine amends the visit's invoice after a late dispense. It
// returns nil, nil when the visit has not been invoiced yet; the line is then
// picked up when the invoice is created.
func (s *Service) AddMedicationLine(ctx context.Context, visitID int64, line LineInput, actor int64) (*Invoice, error) {
	if line.Kind != LineMedication {
		return nil, ErrInvalidLine
	}
	if err := validateLines([]LineInput{line}); err != nil {
		return nil, err
	}

	var amended *Invoice
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		inv, err := s.repo.GetInvoiceByVisitForUpdate(ctx, visitID)
		if errors.Is(err, ErrInvoiceNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if inv.Status == StatusPaid {
			return ErrInvoiceSettled
		}

		if err := s.repo.InsertLines(ctx, inv.ID, []LineInput{line}); err != nil {
			return err
		}
		newTotal := inv.Total.Add(line.Amount())
		if err := s.repo.UpdateTotal(ctx, inv.ID, newTotal); err != nil {
			return err
		}
		if err := s.sink.Record(ctx, audit.Change{
			Actor: actor, Action: audit.ActionUpdate, Table: tableInvoices, RecordID: inv.ID,
			Field: "total_amount", Old: inv.Total.StringFixed(2), New: newTotal.StringFixed(2),
		}); err != nil {
			return err
		}
		if err := s.sink.Emit(ctx, audit.Event{
			Aggregate: aggregateInvoice, AggregateID: inv.ID, Type: EventInvoiceAmended,
			Payload: map[string]any{"item_id": line.ReferenceID, "amount": line.Amount().StringFixed(2)},
		}); err != nil {
			return err
		}

		inv.Total = newTotal
		amended = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return amended, nil
}

// RecordPayment appends a payment. The invoice row lock serialises payments so
// the balance can never go below zero; PAID is set once and never reverted.
func (s *Service) RecordPayment(ctx context.Context, invoiceID int64, amount decimal.Decimal, method Method, actor int64) (*PaymentResult, error) {
	if err := s.auth.Require(ctx, actor, access.CapRecordPayment); err != nil {
		return nil, err
	}
	if _, ok := ParseMethod(string(method)); !ok {
		return nil, ErrInvalidMethod
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var result *PaymentResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		inv, err := s.repo.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		paid, err := s.repo.SumPayments(ctx, invoiceID)
		if err != nil {
			return err
		}

		balance, settled, err := ApplyPayment(inv.Total, paid, amount)
		if err != nil {
			return err
		}

		p, err := s.repo.InsertPayment(ctx, invoiceID, amount, method, actor)
		if err != nil {
			return err
		}
		changes := []audit.Change{{
			Actor: actor, Action: audit.ActionInsert, Table: tablePayments, RecordID: p.ID,
			Field: "amount", New: amount.StringFixed(2),
		}}

		status := inv.Status
		if settled && inv.Status != StatusPaid {
			if err := s.repo.MarkPaid(ctx, invoiceID); err != nil {
				return err
			}
			status = StatusPaid
			changes = append(changes, audit.Change{
				Actor: actor, Action: audit.ActionUpdate, Table: tableInvoices, RecordID: invoiceID,
				Field: "status", Old: inv.Status, New: StatusPaid,
			})
		}
		if err := s.sink.Record(ctx, changes...); err != nil {
			return err
		}

		if err := s.sink.Emit(ctx, audit.Event{
			Aggregate: aggregateInvoice, AggregateID: invoiceID, Type: EventPaymentRecorded,
			Payload: map[string]any{"payment_id": p.ID, "amount": amount.StringFixed(2), "method": method, "balance": balance.StringFixed(2)},
		}); err != nil {
			return err
		}
		if status == StatusPaid && inv.Status != StatusPaid {
			if err := s.sink.Emit(ctx, audit.Event{
				Aggregate: aggregateInvoice, AggregateID: invoiceID, Type: EventInvoicePaid,
				Payload: map[string]any{"total": inv.Total.StringFixed(2)},
			}); err != nil {
				return err
			}
		}

		result = &PaymentResult{Payment: *p, Balance: balance, Status: status}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment recorded",
		zap.Int64("invoice_id", invoiceID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("balance", result.Balance.StringFixed(2)))
	return result, nil
}

// Read side

func (s *Service) GetInvoice(ctx context.Context, id, actor int64) (*InvoiceDetail, error) {
	if err := s.auth.Require(ctx, actor, access.CapViewBilling); err != nil {
		return nil, err
	}
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, inv)
}

func (s *Service) GetInvoiceByVisit(ctx context.Context, visitID, actor int64) (*InvoiceDetail, error) {
	if err := s.auth.Require(ctx, actor, access.CapViewBilling); err != nil {
		return nil, err
	}
	inv, err := s.repo.GetInvoiceByVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, inv)
}

func (s *Service) detail(ctx context.Context, inv *Invoice) (*InvoiceDetail, error) {
	lines, err := s.repo.ListLines(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPayments(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}
	return &InvoiceDetail{
		Invoice:  *inv,
		Lines:    lines,
		Payments: payments,
		Paid:     paid,
		Balance:  Balance(inv.Total, paid),
	}, nil
}

func (s *Service) InvoiceTracker(ctx context.Context, status *InvoiceStatus, limit int, actor int64) ([]TrackerRow, error) {
	if err := s.auth.Require(ctx, actor, access.CapViewBilling); err != nil {
		return nil, err
	}
	if status != nil && *status != StatusPaid && *status != StatusNotPaid {
		return nil, ErrInvalidStatus
	}
	if limit <= 0 || limit > 1000 {
		limit = defaultTrackerLimit
	}
	return s.repo.Tracker(ctx, status, limit)
}

// MonthlyRevenue reports invoiced and collected amounts per calendar month in
// [from, to).
func (s *Service) MonthlyRevenue(ctx context.Context, from, to time.Time, actor int64) ([]RevenueRow, error) {
	if err := s.auth.Require(ctx, actor, access.CapViewBilling); err != nil {
		return nil, err
	}
	if !from.Before(to) {
		return nil, ErrInvalidRange
	}
	return s.repo.MonthlyRevenue(ctx, from, to)
}
