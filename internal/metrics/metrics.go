// Package metrics exposes Prometheus instruments for business operations,
// the HTTP surface and the outbox relay.
package metrics

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/hackgods/hospital-operations/internal/apperr"
)

type Metrics struct {
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	HTTPRequests      *prometheus.CounterVec
	BookingConflicts  prometheus.Counter
	DispensedUnits    prometheus.Counter
	PaymentsAmount    prometheus.Counter
	OutboxPending     prometheus.Gauge
	OutboxPublished   *prometheus.CounterVec
	BreakerState      *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates the instruments and registers them on reg. A nil reg uses a
// fresh private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hospital_operations_total",
			Help: "Business operations by outcome",
		}, []string{"operation", "outcome"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hospital_operation_duration_seconds",
			Help:    "Business operation latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"operation"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hospital_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		BookingConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hospital_booking_conflicts_total",
			Help: "Bookings rejected because the slot was taken or busy",
		}),
		DispensedUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hospital_dispensed_units_total",
			Help: "Units issued from pharmacy stock",
		}),
		PaymentsAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hospital_payments_amount_total",
			Help: "Sum of recorded payments",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hospital_outbox_pending_entries",
			Help: "Outbox entries waiting to be published",
		}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hospital_outbox_published_total",
			Help: "Outbox publish attempts by outcome",
		}, []string{"outcome"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hospital_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.Operations,
		m.OperationDuration,
		m.HTTPRequests,
		m.BookingConflicts,
		m.DispensedUnits,
		m.PaymentsAmount,
		m.OutboxPending,
		m.OutboxPublished,
		m.BreakerState,
	)
	return m
}

// Outcome labels an operation result: "ok" or the lowercased error kind.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return strings.ToLower(string(ae.Kind))
	}
	return strings.ToLower(string(apperr.KindSystemFailure))
}

// Observe records one finished operation. Safe on a nil receiver.
func (m *Metrics) Observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, Outcome(err)).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) AddDispensed(units int) {
	if m == nil {
		return
	}
	m.DispensedUnits.Add(float64(units))
}

func (m *Metrics) AddPayment(amount decimal.Decimal) {
	if m == nil {
		return
	}
	f, _ := amount.Float64()
	m.PaymentsAmount.Add(f)
}

func (m *Metrics) BookingConflict() {
	if m == nil {
		return
	}
	m.BookingConflicts.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
