// Package jobmetrics holds the Prometheus collectors shared by the
// background jobs.
package jobmetrics

import (
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes used as the status label.
const (
	StatusSuccess  = "success"
	StatusFailure  = "failure"
	StatusRejected = "rejected"
)

// Metrics exposes Prometheus collectors for background jobs. A nil *Metrics
// records nothing.
type Metrics struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	mismatches prometheus.Counter
	skipped    *prometheus.CounterVec
}

// NewMetrics registers the job collectors on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goodsflow_jobs_total",
			Help: "Total eksekusi job per nama job dan status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goodsflow_jobs_failures_total",
			Help: "Total job yang gagal dan akan dicoba ulang.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "goodsflow_job_duration_seconds",
			Help:    "Durasi eksekusi job dalam detik.",
			Buckets: []float64{0.01, 0.05, 0.25, 1, 5, 30, 120, 600},
		}, []string{"job"}),
		mismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goodsflow_ledger_reconcile_mismatches_total",
			Help: "Baris stok yang tidak cocok dengan replay movement log.",
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goodsflow_jobs_skipped_total",
			Help: "Job yang dilewati sebelum bekerja.",
		}, []string{"job", "reason"}),
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.mismatches, m.skipped)
	return m
}

// Start marks the beginning of a run of job. The returned func records the
// outcome and hands err back unchanged, so callers can write
//
//	done := metrics.Start(name)
//	defer func() { err = done(err) }()
func (m *Metrics) Start(job string) func(error) error {
	started := time.Now()
	return func(err error) error {
		if m == nil {
			return err
		}
		m.duration.WithLabelValues(job).Observe(time.Since(started).Seconds())
		m.runs.WithLabelValues(job, outcome(err)).Inc()
		if outcome(err) == StatusFailure {
			m.failures.WithLabelValues(job).Inc()
		}
		return err
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, asynq.SkipRetry):
		return StatusRejected
	default:
		return StatusFailure
	}
}

// AddMismatches counts stock rows whose movement log did not replay cleanly.
func (m *Metrics) AddMismatches(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.mismatches.Add(float64(count))
}

// Skipped counts runs that did not execute, e.g. because another worker held
// the lock.
func (m *Metrics) Skipped(job, reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(job, reason).Inc()
}
