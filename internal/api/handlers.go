package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-operations/internal/apperr"
	"github.com/hackgods/hospital-operations/internal/metrics"
)

// operation runs one named business call for actor and returns the success
// status and data.
type operation func(r *http.Request, actor int64) (int, any, error)

type handler struct {
	svc     Services
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// op adapts an operation to HTTP: it records the outcome, logs system
// failures and writes the envelope.
func (h *handler) op(name string, fn operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status, data, err := fn(r, ActorID(r.Context()))
		h.metrics.Observe(name, start, err)

		if err != nil {
			span := trace.SpanFromContext(r.Context())
			span.RecordError(err)
			if !apperr.IsBusiness(err) {
				span.SetStatus(codes.Error, name)
				h.logger.Error("operation failed",
					zap.String("operation", name),
					zap.String("request_id", GetRequestID(r.Context())),
					zap.Error(err))
			}
			writeError(w, err)
			return
		}
		writeJSON(w, status, Envelope{
			Status:  status,
			Code:    "OK",
			Message: strings.ToLower(http.StatusText(status)),
			Data:    data,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError reports err without internal detail.
func writeError(w http.ResponseWriter, err error) {
	status, code, msg := apperr.Describe(err)
	writeJSON(w, status, Envelope{Status: status, Code: code, Message: msg})
}

var errBadBody = apperr.ErrInvalidInput.WithMessage("could not parse JSON body")

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadBody.Wrap(err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.ErrInvalidInput.WithMessage(name + " must be a positive integer")
	}
	return id, nil
}

// queryID returns nil when the parameter is absent.
func queryID(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, apperr.ErrInvalidInput.WithMessage(name + " must be a positive integer")
	}
	return &id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.ErrInvalidInput.WithMessage(name + " must be an integer")
	}
	return n, nil
}

func parseDate(name, raw string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, apperr.ErrInvalidInput.WithMessage(name + " must be a date (YYYY-MM-DD)")
	}
	return t, nil
}

// queryDate returns nil when the parameter is absent.
func queryDate(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := parseDate(name, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// requiredDate falls back to today's UTC date when absent.
func requiredDate(r *http.Request, name string) (time.Time, error) {
	d, err := queryDate(r, name)
	if err != nil {
		return time.Time{}, err
	}
	if d == nil {
		y, m, day := time.Now().UTC().Date()
		return time.Date(y, m, day, 0, 0, 0, 0, time.UTC), nil
	}
	return *d, nil
}
