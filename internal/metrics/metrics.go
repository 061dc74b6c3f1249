package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "doorbell"

// Metrics holds the pipeline's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	notifications   *prometheus.CounterVec
	batches         *prometheus.CounterVec
	revocations     *prometheus.CounterVec
	suppressed      prometheus.Counter
	ledgerFailures  prometheus.Counter
	pipelineResults *prometheus.CounterVec
	pipelineLatency prometheus.Histogram
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Push notifications attempted, by result and failure reason.",
		}, []string{"result", "reason"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_batches_total",
			Help:      "Provider multicast calls, by result.",
		}, []string{"result"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_revocations_total",
			Help:      "Token revocation jobs, by result.",
		}, []string{"result"}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_suppressed_total",
			Help:      "Tokens skipped before dispatch because they were recently revoked.",
		}),
		ledgerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_write_failures_total",
			Help:      "Event ledger writes that failed and were dropped.",
		}),
		pipelineResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Doorbell events processed, by HTTP-style status.",
		}, []string{"status"}),
		pipelineLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_duration_seconds",
			Help:      "End-to-end processing time of a doorbell event.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.notifications,
		m.batches,
		m.revocations,
		m.suppressed,
		m.ledgerFailures,
		m.pipelineResults,
		m.pipelineLatency,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) NotificationSent(n int) {
	if m == nil || n == 0 {
		return
	}
	m.notifications.WithLabelValues("success", "").Add(float64(n))
}

func (m *Metrics) NotificationFailed(reason string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues("failure", reason).Inc()
}

func (m *Metrics) BatchSent(ok bool) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(resultLabel(ok)).Inc()
}

func (m *Metrics) TokenRevoked(ok bool) {
	if m == nil {
		return
	}
	m.revocations.WithLabelValues(resultLabel(ok)).Inc()
}

func (m *Metrics) RevocationDropped() {
	if m == nil {
		return
	}
	m.revocations.WithLabelValues("dropped").Inc()
}

func (m *Metrics) TokensSuppressed(n int) {
	if m == nil || n == 0 {
		return
	}
	m.suppressed.Add(float64(n))
}

func (m *Metrics) LedgerWriteFailed() {
	if m == nil {
		return
	}
	m.ledgerFailures.Inc()
}

func (m *Metrics) EventProcessed(status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pipelineResults.WithLabelValues(http.StatusText(status)).Inc()
	m.pipelineLatency.Observe(elapsed.Seconds())
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
