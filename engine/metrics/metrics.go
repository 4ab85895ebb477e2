// Package metrics exposes Prometheus-compatible counters and gauges for the
// evaluation engine (SPEC_FULL.md section 3, "Metrics").
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the engine's runtime health signals, all namespaced
// "evalengine_":
//
//  1. inflight_nodes (gauge): nodes currently Evaluating.
//  2. frontier_depth (gauge): keys sitting in the ready queue.
//  3. node_latency_ms (histogram): duration of the evaluator invocation
//     whose result was committed, per tag.
//  4. restarts_total (counter): restart-on-missing-dependency events per tag.
//  5. cycles_detected_total (counter): cycle detector invocations that found one.
//  6. change_pruned_total (counter): CHECK_DEPENDENCIES walks that ended in
//     commitUnchanged rather than a rebuild.
type Metrics struct {
	inflightNodes prometheus.Gauge
	frontierDepth prometheus.Gauge

	nodeLatency *prometheus.HistogramVec
	restarts    *prometheus.CounterVec
	cycles      prometheus.Counter
	changePruned *prometheus.CounterVec

	fpcacheHits   *prometheus.CounterVec
	fpcacheMisses *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// New creates and registers the engine's metrics with registry. A nil
// registry uses prometheus.DefaultRegisterer.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	m := &Metrics{enabled: true}

	m.inflightNodes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "evalengine",
		Name:      "inflight_nodes",
		Help:      "Node entries currently in the Evaluating lifecycle state",
	})

	m.frontierDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "evalengine",
		Name:      "frontier_depth",
		Help:      "Keys currently queued in the ready frontier awaiting a worker",
	})

	m.nodeLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "evalengine",
		Name:      "node_latency_ms",
		Help:      "Duration of the evaluator invocation whose result was committed, in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"tag", "status"})

	m.restarts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evalengine",
		Name:      "restarts_total",
		Help:      "Evaluator invocations that returned because a dependency was missing",
	}, []string{"tag"})

	m.cycles = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "evalengine",
		Name:      "cycles_detected_total",
		Help:      "Cycle detector runs that found at least one cyclic wait",
	})

	m.changePruned = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evalengine",
		Name:      "change_pruned_total",
		Help:      "CHECK_DEPENDENCIES walks that committed the prior value unchanged",
	}, []string{"tag"})

	m.fpcacheHits = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evalengine",
		Name:      "fpcache_hits_total",
		Help:      "Fingerprint Value Cache operations served from a local entry",
	}, []string{"direction"})

	m.fpcacheMisses = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evalengine",
		Name:      "fpcache_misses_total",
		Help:      "Fingerprint Value Cache operations that found no existing entry",
	}, []string{"direction"})

	return m
}

func (m *Metrics) isEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// SetInflight sets the number of currently Evaluating nodes.
func (m *Metrics) SetInflight(n int) {
	if m == nil || !m.isEnabled() {
		return
	}
	m.inflightNodes.Set(float64(n))
}

// SetFrontierDepth sets the number of keys queued in the ready frontier.
func (m *Metrics) SetFrontierDepth(n int) {
	if m == nil || !m.isEnabled() {
		return
	}
	m.frontierDepth.Set(float64(n))
}

// ObserveLatency records how long the committed evaluator invocation for
// tag took.
func (m *Metrics) ObserveLatency(tag, status string, d time.Duration) {
	if m == nil || !m.isEnabled() {
		return
	}
	m.nodeLatency.WithLabelValues(tag, status).Observe(float64(d.Milliseconds()))
}

// IncRestart records one restart-on-missing-dependency for tag.
func (m *Metrics) IncRestart(tag string) {
	if m == nil || !m.isEnabled() {
		return
	}
	m.restarts.WithLabelValues(tag).Inc()
}

// IncCycleDetected records one cycle-detector run that found a cycle.
func (m *Metrics) IncCycleDetected() {
	if m == nil || !m.isEnabled() {
		return
	}
	m.cycles.Inc()
}

// IncChangePruned records one CHECK_DEPENDENCIES walk that avoided a
// rebuild for tag.
func (m *Metrics) IncChangePruned(tag string) {
	if m == nil || !m.isEnabled() {
		return
	}
	m.changePruned.WithLabelValues(tag).Inc()
}

// IncFPCacheHit records a Fingerprint Value Cache lookup ("serialize" or
// "deserialize") that found an existing process-local entry. Lookups
// answered by the remote backend are counted as misses.
func (m *Metrics) IncFPCacheHit(direction string) {
	if m == nil || !m.isEnabled() {
		return
	}
	m.fpcacheHits.WithLabelValues(direction).Inc()
}

// IncFPCacheMiss records a Fingerprint Value Cache lookup that found nothing
// and had to claim the operation itself.
func (m *Metrics) IncFPCacheMiss(direction string) {
	if m == nil || !m.isEnabled() {
		return
	}
	m.fpcacheMisses.WithLabelValues(direction).Inc()
}

// Disable stops recording without unregistering collectors, for tests.
func (m *Metrics) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Enable resumes recording after Disable.
func (m *Metrics) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}
