package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	ContractCallsTotal   *prometheus.CounterVec
	ContractCallDuration *prometheus.HistogramVec
	SettlementsTotal     *prometheus.CounterVec
	SettlementPolls      prometheus.Histogram
	BreakerState         *prometheus.GaugeVec

	StoreOpsTotal   *prometheus.CounterVec
	StoreOpDuration *prometheus.HistogramVec
	StoreBytesTotal *prometheus.CounterVec

	LifecycleOpsTotal *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec

	AuditEntriesTotal  prometheus.Counter
	AuditBufferDropped prometheus.Counter
}

// NewCollector registers every metric with reg. Pass prometheus.DefaultRegisterer in
// the server and a fresh registry in tests.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 30, 60},
		}, []string{"method", "path", "status"}),

		InFlightGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		ContractCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "contract",
			Name:      "calls_total",
			Help:      "Contract calls by function and outcome kind.",
		}, []string{"function", "kind"}),

		ContractCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "contract",
			Name:      "call_duration_seconds",
			Help:      "Latency of read-only calls and transaction submissions.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10, 30},
		}, []string{"function"}),

		SettlementsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "contract",
			Name:      "settlements_total",
			Help:      "Transaction settlements by status (success, failed, timeout).",
		}, []string{"status"}),

		SettlementPolls: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "contract",
			Name:      "settlement_polls",
			Help:      "Polls needed before a transaction settled or timed out.",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 30, 60},
		}),

		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "contract",
			Name:      "breaker_state",
			Help:      "Node circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}, []string{"name"}),

		StoreOpsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Content store operations by backend, operation and outcome kind.",
		}, []string{"backend", "op", "kind"}),

		StoreOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Content store operation latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15, 60},
		}, []string{"backend", "op"}),

		StoreBytesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "bytes_total",
			Help:      "Bytes moved through the content store.",
		}, []string{"backend", "direction"}),

		LifecycleOpsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "operations_total",
			Help:      "Lifecycle operations by name and outcome kind.",
		}, []string{"operation", "kind"}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Lifecycle events handed to the publisher, by outcome.",
		}, []string{"outcome"}),

		AuditEntriesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "entries_total",
			Help:      "Total audit log entries written.",
		}),

		AuditBufferDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "buffer_dropped_total",
			Help:      "Audit entries dropped due to full buffer. Alert if non-zero.",
		}),
	}
}

// NewNop returns a collector bound to a private registry.
func NewNop() *Collector {
	return NewCollector("securehealth", prometheus.NewRegistry())
}

func (c *Collector) ObserveContractCall(function, kind string, started time.Time) {
	c.ContractCallsTotal.WithLabelValues(function, kind).Inc()
	c.ContractCallDuration.WithLabelValues(function).Observe(time.Since(started).Seconds())
}

func (c *Collector) ObserveStoreOp(backend, op, kind string, started time.Time) {
	c.StoreOpsTotal.WithLabelValues(backend, op, kind).Inc()
	c.StoreOpDuration.WithLabelValues(backend, op).Observe(time.Since(started).Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves a specific registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
