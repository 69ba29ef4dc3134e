package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	movementsTotal    *prometheus.CounterVec
	movementUnits     *prometheus.CounterVec
	insufficientStock prometheus.Counter
	arrivalsTotal     *prometheus.CounterVec
	sideEffectErrors  *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "goodsflow_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "goodsflow_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "goodsflow_stock_movements_total",
		Help: "Jumlah mutasi stok yang ter-commit per alasan.",
	}, []string{"reason"})
	units := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "goodsflow_stock_movement_units_total",
		Help: "Jumlah unit absolut yang berpindah per alasan.",
	}, []string{"reason"})
	insufficient := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "goodsflow_stock_insufficient_total",
		Help: "Jumlah debit yang ditolak karena stok tidak cukup.",
	})
	arrivals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "goodsflow_arrival_confirmations_total",
		Help: "Konfirmasi kedatangan per hasil (confirmed, duplicate).",
	}, []string{"result"})
	sideEffects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "goodsflow_post_commit_failures_total",
		Help: "Kegagalan efek samping setelah commit (cache, event).",
	}, []string{"kind"})
	registry.MustRegister(requests, duration, movements, units, insufficient, arrivals, sideEffects)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		movementsTotal:    movements,
		movementUnits:     units,
		insufficientStock: insufficient,
		arrivalsTotal:     arrivals,
		sideEffectErrors:  sideEffects,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// MovementCommitted mencatat satu mutasi stok yang sudah ter-commit.
func (m *Metrics) MovementCommitted(reason string, delta int64) {
	if m == nil {
		return
	}
	if delta < 0 {
		delta = -delta
	}
	m.movementsTotal.WithLabelValues(reason).Inc()
	m.movementUnits.WithLabelValues(reason).Add(float64(delta))
}

// InsufficientStock mencatat debit yang ditolak.
func (m *Metrics) InsufficientStock() {
	if m == nil {
		return
	}
	m.insufficientStock.Inc()
}

// ArrivalConfirmation mencatat hasil konfirmasi kedatangan.
func (m *Metrics) ArrivalConfirmation(result string) {
	if m == nil {
		return
	}
	m.arrivalsTotal.WithLabelValues(result).Inc()
}

// SideEffectFailed mencatat kegagalan invalidasi cache atau publikasi event.
func (m *Metrics) SideEffectFailed(kind string) {
	if m == nil {
		return
	}
	m.sideEffectErrors.WithLabelValues(kind).Inc()
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
