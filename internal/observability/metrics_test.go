package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestMetricsExposeLedgerCounters(t *testing.T) {
	m := NewMetrics()
	m.MovementCommitted("sale-outbound", -40)
	m.MovementCommitted("purchase-inbound", 100)
	m.InsufficientStock()
	m.ArrivalConfirmation("duplicate")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	require.Contains(t, body, `goodsflow_stock_movement_units_total{reason="sale-outbound"} 40`)
	require.Contains(t, body, `goodsflow_stock_movements_total{reason="purchase-inbound"} 1`)
	require.Contains(t, body, "goodsflow_stock_insufficient_total 1")
	require.Contains(t, body, `goodsflow_arrival_confirmations_total{result="duplicate"} 1`)
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := NewMetrics()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/stock/{variantID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/stock/9", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.True(t, strings.Contains(rec.Body.String(), `route="/api/stock/{variantID}"`))
	require.Contains(t, rec.Body.String(), `code="418"`)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.MovementCommitted("adjustment", 1)
	m.InsufficientStock()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
