// Package metrics exposes escrow counters on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is safe to use as a nil pointer; every method is then a no-op.
type Registry struct {
	registry        *prometheus.Registry
	operationsTotal *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	ledgerCalls     *prometheus.CounterVec
	ledgerDuration  *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
}

func New() *Registry {
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_operations_total",
		Help: "Escrow service operations by outcome",
	}, []string{"operation", "result"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_transitions_total",
		Help: "Escrow status transitions applied",
	}, []string{"from", "to"})

	ledgerCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_ledger_calls_total",
		Help: "Ledger gateway calls by outcome",
	}, []string{"call", "result"})

	ledgerDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "escrow_ledger_call_duration_seconds",
		Help:    "Ledger gateway call latency",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"call"})

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_http_requests_total",
		Help: "HTTP requests handled by the API",
	}, []string{"method", "status"})

	r := prometheus.NewRegistry()
	r.MustRegister(operations, transitions, ledgerCalls, ledgerDuration, httpRequests)

	return &Registry{
		registry:        r,
		operationsTotal: operations,
		transitions:     transitions,
		ledgerCalls:     ledgerCalls,
		ledgerDuration:  ledgerDuration,
		httpRequests:    httpRequests,
	}
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer is used by tests to read back collected values.
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Registry) Operation(op, result string) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(op, result).Inc()
}

func (m *Registry) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Registry) LedgerCall(call, result string, started time.Time) {
	if m == nil {
		return
	}
	m.ledgerCalls.WithLabelValues(call, result).Inc()
	m.ledgerDuration.WithLabelValues(call).Observe(time.Since(started).Seconds())
}

func (m *Registry) HTTPRequest(method, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, status).Inc()
}
