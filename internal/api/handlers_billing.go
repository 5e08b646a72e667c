package api

import (
	"net/http"
	"time"

	"github.com/hackgods/hospital-operations/internal/billing"
)

func (h *handler) recordPayment(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var req PaymentRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	method, ok := billing.ParseMethod(req.Method)
	if !ok {
		return 0, nil, billing.ErrInvalidMethod
	}
	res, err := h.svc.Billing.RecordPayment(r.Context(), id, req.Amount, method, actor)
	if err != nil {
		return 0, nil, err
	}
	h.metrics.AddPayment(res.Payment.Amount)
	return http.StatusCreated, res, nil
}

func (h *handler) getInvoice(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	out, err := h.svc.Billing.GetInvoice(r.Context(), id, actor)
	return http.StatusOK, out, err
}

func (h *handler) getVisitInvoice(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	out, err := h.svc.Billing.GetInvoiceByVisit(r.Context(), id, actor)
	return http.StatusOK, out, err
}

func (h *handler) invoiceTracker(r *http.Request, actor int64) (int, any, error) {
	var status *billing.InvoiceStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := billing.InvoiceStatus(raw)
		status = &s
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		return 0, nil, err
	}
	out, err := h.svc.Billing.InvoiceTracker(r.Context(), status, limit, actor)
	return http.StatusOK, out, err
}

// monthlyRevenue defaults to the twelve months ending today.
func (h *handler) monthlyRevenue(r *http.Request, actor int64) (int, any, error) {
	to, err := requiredDate(r, "to")
	if err != nil {
		return 0, nil, err
	}
	from, err := queryDate(r, "from")
	if err != nil {
		return 0, nil, err
	}
	if from == nil {
		start := to.AddDate(-1, 0, 0)
		from = &start
	}
	out, err := h.svc.Billing.MonthlyRevenue(r.Context(), *from, to.Add(24*time.Hour), actor)
	return http.StatusOK, out, err
}
