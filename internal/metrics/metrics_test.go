package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/hospital-operations/internal/apperr"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "state_conflict", Outcome(apperr.Conflict("SLOT_TAKEN", "taken")))
	assert.Equal(t, "resource_exhausted", Outcome(apperr.Exhausted("INSUFFICIENT_STOCK", "none")))
	assert.Equal(t, "system_failure", Outcome(errors.New("connection reset")))
}

func TestObserveAndServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Observe("book_appointment", time.Now(), nil)
	m.Observe("book_appointment", time.Now(), apperr.Conflict("SLOT_TAKEN", "taken"))
	m.AddDispensed(15)
	m.AddPayment(decimal.RequireFromString("40000.50"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("book_appointment", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("book_appointment", "state_conflict")))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.DispensedUnits))
	assert.InDelta(t, 40000.5, testutil.ToFloat64(m.PaymentsAmount), 0.001)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hospital_dispensed_units_total 15")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Observe("x", time.Now(), nil)
		m.AddDispensed(1)
		m.BookingConflict()
	})
}
