package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hackgods/hospital-operations/internal/apperr"
)

var (
	ErrInvoiceNotFound = apperr.NotFound("INVOICE_NOT_FOUND", "invoice not found")
	ErrInvoiceExists   = apperr.Conflict("INVOICE_EXISTS", "visit already has an invoice")
	ErrInvoiceSettled  = apperr.Conflict("INVOICE_SETTLED", "invoice is already paid and cannot change")
	ErrOverPayment     = apperr.Exhausted("OVER_PAYMENT", "payment exceeds the balance due")
	ErrInvalidAmount   = apperr.Validation("INVALID_AMOUNT", "amount must be a positive number")
	ErrInvalidMethod   = apperr.Validation("INVALID_METHOD", "unknown payment method")
	ErrInvalidLine     = apperr.Validation("INVALID_LINE", "invoice line needs a kind, a positive quantity and a non-negative price")
	ErrInvalidRange    = apperr.Validation("INVALID_RANGE", "from must be before to")
	ErrInvalidStatus   = apperr.Validation("INVALID_STATUS", "unknown invoice status")
)

type Repository interface {
	// CreateInvoice returns ErrInvoiceExists when the visit is already billed.
	CreateInvoice(ctx context.Context, visitID int64, total decimal.Decimal) (*Invoice, error)
	InsertLines(ctx context.Context, invoiceID int64, lines []LineInput) error
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	GetInvoiceForUpdate(ctx context.Context, id int64) (*Invoice, error)
	GetInvoiceByVisitForUpdate(ctx context.Context, visitID int64) (*Invoice, error)
	GetInvoiceByVisit(ctx context.Context, visitID int64) (*Invoice, error)
	UpdateTotal(ctx context.Context, id int64, total decimal.Decimal) error
	// MarkPaid flips NOT PAID -> PAID and never the other way.
	MarkPaid(ctx context.Context, id int64) error

	SumPayments(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
	InsertPayment(ctx context.Context, invoiceID int64, amount decimal.Decimal, method Method, actor int64) (*Payment, error)

	ListLines(ctx context.Context, invoiceID int64) ([]Line, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
	Tracker(ctx context.Context, status *InvoiceStatus, limit int) ([]TrackerRow, error)
	MonthlyRevenue(ctx context.Context, from, to time.Time) ([]RevenueRow, error)
}
