// Package metrics exposes Prometheus counters for rendition work.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dt_renditions"

// Metrics holds the service counters.
type Metrics struct {
	built              *prometheus.CounterVec
	buildFailures      *prometheus.CounterVec
	cacheLookups       *prometheus.CounterVec
	invalidated        prometheus.Counter
	optimizerFallbacks prometheus.Counter
	warmFailures       prometheus.Counter
}

// New creates the counters and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		built: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "built_total",
			Help:      "Renditions encoded and written to storage.",
		}, []string{"op"}),
		buildFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "build_failures_total",
			Help:      "Rendition builds that failed.",
		}, []string{"op"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Existence cache lookups by result.",
		}, []string{"result"}),
		invalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidated_total",
			Help:      "Derived files deleted by invalidation.",
		}),
		optimizerFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimizer_fallbacks_total",
			Help:      "Uploads optimized locally after the optimization service failed.",
		}),
		warmFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warm_failures_total",
			Help:      "Records that failed during a bulk operation.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.built, m.buildFailures, m.cacheLookups, m.invalidated, m.optimizerFallbacks, m.warmFailures)
	}
	return m
}

func (m *Metrics) Built(op string) {
	if m == nil {
		return
	}
	m.built.WithLabelValues(op).Inc()
}

func (m *Metrics) BuildFailed(op string) {
	if m == nil {
		return
	}
	m.buildFailures.WithLabelValues(op).Inc()
}

// CacheLookup records an existence cache lookup.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Invalidated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.invalidated.Add(float64(n))
}

func (m *Metrics) OptimizerFallback() {
	if m == nil {
		return
	}
	m.optimizerFallbacks.Inc()
}

func (m *Metrics) WarmFailed() {
	if m == nil {
		return
	}
	m.warmFailures.Inc()
}
