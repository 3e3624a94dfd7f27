package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type NodeMetricer interface {
	RecordRPCClientRequest(method string) func(err error)
	RecordFallback()
}

type NodeMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	durations *prometheus.HistogramVec
	fallbacks prometheus.Counter
}

// NewNodeMetrics registers the rpc client metrics for one chain.
func NewNodeMetrics(registry *prometheus.Registry, chain string) *NodeMetrics {
	labels := prometheus.Labels{"chain": chain}
	m := &NodeMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Subsystem:   "rpc",
			Name:        "requests_total",
			Help:        "number of rpc requests by method",
			ConstLabels: labels,
		}, []string{"method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Subsystem:   "rpc",
			Name:        "errors_total",
			Help:        "number of failed rpc requests by method",
			ConstLabels: labels,
		}, []string{"method"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   Namespace,
			Subsystem:   "rpc",
			Name:        "request_duration_seconds",
			Help:        "rpc request latency by method",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"method"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Subsystem:   "rpc",
			Name:        "fallback_switches_total",
			Help:        "number of times the client switched to its fallback endpoint",
			ConstLabels: labels,
		}),
	}
	registry.MustRegister(m.requests, m.errors, m.durations, m.fallbacks)
	return m
}

func (m *NodeMetrics) RecordRPCClientRequest(method string) func(err error) {
	m.requests.WithLabelValues(method).Inc()
	start := time.Now()
	return func(err error) {
		m.durations.WithLabelValues(method).Observe(time.Since(start).Seconds())
		if err != nil {
			m.errors.WithLabelValues(method).Inc()
		}
	}
}

func (m *NodeMetrics) RecordFallback() {
	m.fallbacks.Inc()
}

type noopNodeMetrics struct{}

// NoopNodeMetrics discards every observation.
var NoopNodeMetrics NodeMetricer = noopNodeMetrics{}

func (noopNodeMetrics) RecordRPCClientRequest(string) func(error) { return func(error) {} }
func (noopNodeMetrics) RecordFallback()                           {}
