package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/dropship-ops/opsconsole/internal/shared"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `opsconsole_http_requests_total{code="418",route="/test"} 1`)
	require.Contains(t, body, `opsconsole_http_request_duration_seconds_bucket{route="/test"`)
}

func TestRecordOperationLabelsOutcome(t *testing.T) {
	metrics := NewMetrics()
	metrics.RecordOperation("inventory.record_movement", nil)
	metrics.RecordOperation("inventory.record_movement", shared.Precondition(errors.New("short"), shared.Detail{}))
	metrics.RecordOperation("inventory.record_movement", shared.Precondition(errors.New("short"), shared.Detail{}))
	metrics.RecordOperation("ledger.create_transaction", errors.New("boom"))

	body := scrape(t, metrics)
	require.Contains(t, body, `opsconsole_operations_total{operation="inventory.record_movement",outcome="ok"} 1`)
	require.Contains(t, body, `opsconsole_operations_total{operation="inventory.record_movement",outcome="precondition"} 2`)
	require.Contains(t, body, `opsconsole_operations_total{operation="ledger.create_transaction",outcome="error"} 1`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var metrics *Metrics
	metrics.RecordOperation("noop", nil)
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.False(t, strings.Contains(rr.Body.String(), "opsconsole"))
}

func TestOutcomeClasses(t *testing.T) {
	require.Equal(t, "transient", Outcome(shared.Transient(errors.New("reset"))))
	require.Equal(t, "not_found", Outcome(shared.NotFound(errors.New("gone"))))
	require.Equal(t, "conflict", Outcome(shared.Conflict(errors.New("stale"))))
	require.Equal(t, "validation", Outcome(shared.Validation(errors.New("bad"), shared.Detail{})))
}
