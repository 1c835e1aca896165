// Package metrics exposes Prometheus instrumentation for the queue engine.
package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the registry and the engine's instruments. It is injected
// rather than package-global so parallel tests get isolated registries.
type Metrics struct {
	registry *prometheus.Registry

	// QueueOps counts queue operations by operation and reason code.
	QueueOps *prometheus.CounterVec
	// PinVerify counts PIN verifications by outcome.
	PinVerify *prometheus.CounterVec
	// Waiting tracks the live waiting count per clinic.
	Waiting *prometheus.GaugeVec
	// TickDuration observes auto-call tick latency.
	TickDuration prometheus.Histogram
	// TickOutcomes counts per-clinic tick outcomes (called, expired, skipped, error).
	TickOutcomes *prometheus.CounterVec
}

// New builds a Metrics with its own registry, including the standard Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		QueueOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qflow_queue_operations_total",
			Help: "Queue operations by operation and result reason.",
		}, []string{"op", "reason"}),
		PinVerify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qflow_pin_verifications_total",
			Help: "PIN verification attempts by outcome.",
		}, []string{"outcome"}),
		Waiting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qflow_queue_waiting",
			Help: "Visitors currently waiting per clinic.",
		}, []string{"clinic"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "qflow_scheduler_tick_seconds",
			Help:    "Duration of auto-call scheduler ticks.",
			Buckets: prometheus.DefBuckets,
		}),
		TickOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qflow_scheduler_outcomes_total",
			Help: "Per-clinic scheduler outcomes.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.QueueOps, m.PinVerify, m.Waiting, m.TickDuration, m.TickOutcomes,
	)
	return m
}

// Handler serves the registry in Prometheus text exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return echo.WrapHandler(h)
}
