// Package metrics exposes engine counters as Prometheus collectors. The
// engine works without metrics (a nil *Metrics is a no-op everywhere), so
// embedding applications opt in by providing a registerer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	NodeExecutions     prometheus.Counter
	MemoHits           prometheus.Counter
	DirtyRevalidations prometheus.Counter
	CleanShortCircuits prometheus.Counter
	NodeFailures       prometheus.Counter
	InvalidatedNodes   prometheus.Counter
	ActiveSessions     prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NodeExecutions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pants_graph_node_executions_total",
			Help: "Number of rule computations actually run (memo misses and recomputes).",
		}),
		MemoHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pants_graph_memo_hits_total",
			Help: "Number of requests served from a settled, clean node.",
		}),
		DirtyRevalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pants_graph_dirty_revalidations_total",
			Help: "Number of dirty nodes re-validated on request.",
		}),
		CleanShortCircuits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pants_graph_clean_short_circuits_total",
			Help: "Dirty re-validations resolved without recompute because no dependency generation advanced.",
		}),
		NodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pants_graph_node_failures_total",
			Help: "Number of node computations settling in the Failed state.",
		}),
		InvalidatedNodes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pants_graph_invalidated_nodes_total",
			Help: "Number of nodes marked dirty by filesystem invalidation.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pants_graph_active_sessions",
			Help: "Sessions currently open against the graph.",
		}),
	}
	reg.MustRegister(
		m.NodeExecutions,
		m.MemoHits,
		m.DirtyRevalidations,
		m.CleanShortCircuits,
		m.NodeFailures,
		m.InvalidatedNodes,
		m.ActiveSessions,
	)
	return m
}

// IncNodeExecutions is nil-safe; same for the other helpers.
func (m *Metrics) IncNodeExecutions() {
	if m != nil {
		m.NodeExecutions.Inc()
	}
}

func (m *Metrics) IncMemoHits() {
	if m != nil {
		m.MemoHits.Inc()
	}
}

func (m *Metrics) IncDirtyRevalidations() {
	if m != nil {
		m.DirtyRevalidations.Inc()
	}
}

func (m *Metrics) IncCleanShortCircuits() {
	if m != nil {
		m.CleanShortCircuits.Inc()
	}
}

func (m *Metrics) IncNodeFailures() {
	if m != nil {
		m.NodeFailures.Inc()
	}
}

func (m *Metrics) AddInvalidatedNodes(n int) {
	if m != nil {
		m.InvalidatedNodes.Add(float64(n))
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.ActiveSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.ActiveSessions.Dec()
	}
}
