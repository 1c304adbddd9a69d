// Package metrics exposes Prometheus collectors for the deposit pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deposit_ledger"

// Metrics holds the collectors and the private registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	chainRequests     *prometheus.CounterVec
	chainDuration     *prometheus.HistogramVec
	attributions      *prometheus.CounterVec
	creditedLamports  prometheus.Counter
	monitorCycles     prometheus.Counter
	monitorDuration   prometheus.Histogram
	monitorAccounts   prometheus.Gauge
	sweeps            *prometheus.CounterVec
	sweptLamports     prometheus.Counter
	notifications     *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	notifyQueueLength prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		chainRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "requests_total",
			Help:      "Chain RPC calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		chainDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "request_duration_seconds",
			Help:      "Duration of chain RPC calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}, []string{"op"}),
		attributions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposits",
			Name:      "attributions_total",
			Help:      "Deposit attribution outcomes.",
		}, []string{"status"}),
		creditedLamports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposits",
			Name:      "credited_lamports_total",
			Help:      "Lamports credited from deposits.",
		}),
		monitorCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "cycles_total",
			Help:      "Completed monitor cycles.",
		}),
		monitorDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of monitor cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		monitorAccounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "accounts_scanned",
			Help:      "Accounts scanned in the last monitor cycle.",
		}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeps",
			Name:      "total",
			Help:      "Sweep results by status.",
		}, []string{"status"}),
		sweptLamports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeps",
			Name:      "lamports_total",
			Help:      "Lamports moved to the treasury.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "total",
			Help:      "Notification deliveries by outcome.",
		}, []string{"outcome"}),
		notifyQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_length",
			Help:      "Notifications waiting for delivery.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Operator API requests.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of operator API requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method", "path"}),
	}

	m.registry.MustRegister(
		m.chainRequests, m.chainDuration,
		m.attributions, m.creditedLamports,
		m.monitorCycles, m.monitorDuration, m.monitorAccounts,
		m.sweeps, m.sweptLamports,
		m.notifications, m.notifyQueueLength,
		m.httpRequests, m.httpDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveChainCall records one chain RPC call.
func (m *Metrics) ObserveChainCall(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.chainRequests.WithLabelValues(op, outcome).Inc()
	m.chainDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveAttribution records an attribution outcome and the credited amount.
func (m *Metrics) ObserveAttribution(status string, credited int64) {
	if m == nil {
		return
	}
	m.attributions.WithLabelValues(status).Inc()
	if credited > 0 {
		m.creditedLamports.Add(float64(credited))
	}
}

// ObserveCycle records a finished monitor cycle.
func (m *Metrics) ObserveCycle(accounts int, d time.Duration) {
	if m == nil {
		return
	}
	m.monitorCycles.Inc()
	m.monitorDuration.Observe(d.Seconds())
	m.monitorAccounts.Set(float64(accounts))
}

// ObserveSweep records one sweep result.
func (m *Metrics) ObserveSweep(status string, lamports uint64) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(status).Inc()
	if lamports > 0 {
		m.sweptLamports.Add(float64(lamports))
	}
}

// ObserveNotification records a delivery attempt outcome: sent, failed or dropped.
func (m *Metrics) ObserveNotification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

// SetNotifyQueueLength reports the current notification backlog.
func (m *Metrics) SetNotifyQueueLength(n int) {
	if m == nil {
		return
	}
	m.notifyQueueLength.Set(float64(n))
}

// GinMiddleware records request counts and latencies by route template.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
