package engine

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus-compatible instrumentation for a run,
// namespaced "orchestra_". Adapted from the teacher's PrometheusMetrics
// (graph/metrics.go), relabeled for the agent/budget domain: inflight
// agent steps, the group dispatch queue, step latency, retries, budget
// warnings, and dropped events.
type Metrics struct {
	inflightAgents prometheus.Gauge
	groupQueueDepth prometheus.Gauge

	stepLatency *prometheus.HistogramVec

	retries        *prometheus.CounterVec
	fallbacks      *prometheus.CounterVec
	budgetWarnings *prometheus.CounterVec
	budgetHalts    *prometheus.CounterVec
	droppedEvents  *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewMetrics registers the orchestrator's metric set with registry. A
// nil registry uses prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	m := &Metrics{enabled: true}

	m.inflightAgents = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestra",
		Name:      "inflight_agents",
		Help:      "Current number of agent/tool steps executing concurrently",
	})

	m.groupQueueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestra",
		Name:      "group_queue_depth",
		Help:      "Number of steps awaiting dispatch in the current parallel group",
	})

	m.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orchestra",
		Name:      "step_latency_ms",
		Help:      "Adapter-reported latency in milliseconds of a step's successful attempt",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
	}, []string{"run_id", "node_id", "status"})

	m.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestra",
		Name:      "retries_total",
		Help:      "Cumulative retry attempts across all steps",
	}, []string{"run_id", "node_id", "error_kind"})

	m.fallbacks = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestra",
		Name:      "fallbacks_total",
		Help:      "Cumulative fallback substitutions",
	}, []string{"run_id", "original_node_id"})

	m.budgetWarnings = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestra",
		Name:      "budget_warnings_total",
		Help:      "One-shot budget warning crossings (80% of a ceiling)",
	}, []string{"run_id"})

	m.budgetHalts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestra",
		Name:      "budget_halts_total",
		Help:      "Runs halted after a budget ceiling was met or exceeded",
	}, []string{"run_id"})

	m.droppedEvents = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestra",
		Name:      "dropped_events_total",
		Help:      "Non-terminal events dropped by the publisher under backpressure",
	}, []string{"run_id", "event_type"})

	return m
}

func (m *Metrics) RecordStepLatency(runID, nodeID string, latency time.Duration, status string) {
	if m == nil || !m.enabled {
		return
	}
	m.stepLatency.WithLabelValues(runID, nodeID, status).Observe(float64(latency.Milliseconds()))
}

func (m *Metrics) IncrementRetries(runID, nodeID string, kind ErrorKind) {
	if m == nil || !m.enabled {
		return
	}
	m.retries.WithLabelValues(runID, nodeID, string(kind)).Inc()
}

func (m *Metrics) IncrementFallbacks(runID, originalNodeID string) {
	if m == nil || !m.enabled {
		return
	}
	m.fallbacks.WithLabelValues(runID, originalNodeID).Inc()
}

func (m *Metrics) IncrementBudgetWarnings(runID string) {
	if m == nil || !m.enabled {
		return
	}
	m.budgetWarnings.WithLabelValues(runID).Inc()
}

func (m *Metrics) IncrementBudgetHalts(runID string) {
	if m == nil || !m.enabled {
		return
	}
	m.budgetHalts.WithLabelValues(runID).Inc()
}

func (m *Metrics) IncrementDroppedEvents(runID, eventType string) {
	if m == nil || !m.enabled {
		return
	}
	m.droppedEvents.WithLabelValues(runID, eventType).Inc()
}

func (m *Metrics) UpdateGroupQueueDepth(depth int) {
	if m == nil || !m.enabled {
		return
	}
	m.groupQueueDepth.Set(float64(depth))
}

func (m *Metrics) UpdateInflightAgents(count int) {
	if m == nil || !m.enabled {
		return
	}
	m.inflightAgents.Set(float64(count))
}

// Disable turns off metric recording, useful for tests.
func (m *Metrics) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Enable re-enables metric recording after Disable.
func (m *Metrics) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}
