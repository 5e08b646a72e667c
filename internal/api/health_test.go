package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up() Pinger   { return PingFunc(func(context.Context) error { return nil }) }
func down() Pinger { return PingFunc(func(context.Context) error { return errors.New("refused") }) }

func TestReadiness(t *testing.T) {
	tests := []struct {
		name   string
		deps   []Dependency
		code   int
		status string
	}{
		{"all up", []Dependency{{"postgres", up(), true}, {"redis", up(), false}}, http.StatusOK, "ok"},
		{"optional down", []Dependency{{"postgres", up(), true}, {"redis", down(), false}}, http.StatusOK, "degraded"},
		{"critical down", []Dependency{{"postgres", down(), true}, {"redis", up(), false}}, http.StatusServiceUnavailable, "error"},
		{"both down", []Dependency{{"redis", down(), false}, {"postgres", down(), true}}, http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler("test", "v1", tt.deps...)
			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.code, rec.Code)
			var resp ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.status, resp.Status)
			assert.Len(t, resp.Dependencies, len(tt.deps))
		})
	}
}

func TestLiveness(t *testing.T) {
	h := NewHealthHandler("prod", "v2")
	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","version":"v2","env":"prod"}`, rec.Body.String())
}
