package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	StatusNotPaid InvoiceStatus = "NOT PAID"
	StatusPaid    InvoiceStatus = "PAID"
)

type LineKind string

const (
	LineService    LineKind = "SERVICE"
	LineMedication LineKind = "MEDICATION"
)

type Method string

const (
	MethodCash         Method = "CASH"
	MethodCreditCard   Method = "CREDIT_CARD"
	MethodDebitCard    Method = "DEBIT_CARD"
	MethodBankTransfer Method = "BANK_TRANSFER"
	MethodInsurance    Method = "INSURANCE"
)

func ParseMethod(s string) (Method, bool) {
	m := Method(s)
	switch m {
	case MethodCash, MethodCreditCard, MethodDebitCard, MethodBankTransfer, MethodInsurance:
		return m, true
	}
	return "", false
}

type Invoice struct {
	ID        int64           `json:"id"`
	VisitID   int64           `json:"visit_id"`
	Total     decimal.Decimal `json:"total_amount"`
	Status    InvoiceStatus   `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// LineInput is a billable item handed in by the visit or dispense flow.
// ReferenceID is the visit_services id or the pharmacy item id.
type LineInput struct {
	Kind        LineKind
	ReferenceID int64
	Description string
	UnitPrice   decimal.Decimal
	Quantity    int
}

// Amount is UnitPrice x Quantity.
func (l LineInput) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Line struct {
	ID          int64           `json:"id"`
	InvoiceID   int64           `json:"invoice_id"`
	Kind        LineKind        `json:"kind"`
	ReferenceID int64           `json:"reference_id"`
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Payment struct {
	ID        int64           `json:"id"`
	InvoiceID int64           `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    Method          `json:"method"`
	ActorID   *int64          `json:"actor_id,omitempty"`
	PaidAt    time.Time       `json:"paid_at"`
}

type InvoiceDetail struct {
	Invoice
	Lines    []Line          `json:"lines"`
	Payments []Payment       `json:"payments"`
	Paid     decimal.Decimal `json:"paid"`
	Balance  decimal.Decimal `json:"balance"`
}

// TrackerRow is one line of the invoice/payment tracker.
type TrackerRow struct {
	Invoice
	PatientID   int64           `json:"patient_id"`
	PatientName string          `json:"patient_name"`
	VisitDate   time.Time       `json:"visit_date"`
	Paid        decimal.Decimal `json:"paid"`
	Balance     decimal.Decimal `json:"balance"`
}

type RevenueRow struct {
	Month     time.Time       `json:"month"`
	Invoiced  decimal.Decimal `json:"invoiced"`
	Collected decimal.Decimal `json:"collected"`
	Payments  int             `json:"payments"`
}

type PaymentResult struct {
	Payment Payment         `json:"payment"`
	Balance decimal.Decimal `json:"balance"`
	Status  InvoiceStatus   `json:"status"`
}
