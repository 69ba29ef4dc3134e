package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/goodsflow/internal/observability"
	"github.com/odyssey-erp/goodsflow/internal/shared"
	_ "github.com/odyssey-erp/goodsflow/internal/testing/guard"
	"github.com/odyssey-erp/goodsflow/internal/testing/memstore"
	"github.com/odyssey-erp/goodsflow/internal/warehouses"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestRouter(t *testing.T, ready map[string]Pinger) http.Handler {
	t.Helper()
	store := memstore.New()
	svc := warehouses.NewService(store, store, nil)
	return NewRouter(RouterParams{
		Config:            &Config{AppEnv: "test", RateLimitPerMinute: 1000},
		Metrics:           observability.NewMetrics(),
		WarehousesHandler: warehouses.NewHandler(nil, svc),
		Readiness:         ready,
	})
}

func request(t *testing.T, h http.Handler, method, path, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if role != "" {
		req.Header.Set(shared.HeaderActorRole, role)
		req.Header.Set(shared.HeaderActorID, "7")
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterMountsDomainRoutesBehindActorMiddleware(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := request(t, h, http.MethodPost, "/api/warehouses", "manager", `{"code":"jkt","name":"Jakarta","type":"domestic"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = request(t, h, http.MethodGet, "/api/warehouses", "viewer", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "JKT")

	rec = request(t, h, http.MethodGet, "/api/warehouses", "", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = request(t, h, http.MethodGet, "/api/contracts", "viewer", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	h := newTestRouter(t, map[string]Pinger{
		"postgres": pingFunc(func(context.Context) error { return nil }),
	})

	rec := request(t, h, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = request(t, h, http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"postgres":"up"}`, rec.Body.String())

	_ = request(t, h, http.MethodGet, "/api/warehouses", "viewer", "")
	rec = request(t, h, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "goodsflow_http_requests_total")
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	h := newTestRouter(t, map[string]Pinger{
		"postgres": pingFunc(func(context.Context) error { return nil }),
		"redis":    pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	rec := request(t, h, http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"postgres":"up","redis":"down"}`, rec.Body.String())
}
