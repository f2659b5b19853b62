// Package metrics exposes Prometheus collectors for graph activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meikuraledutech/flowgraph"
)

// Metrics implements flowgraph.Observer.
type Metrics struct {
	connections *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
}

var _ flowgraph.Observer = (*Metrics)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowgraph_connection_checks_total",
				Help: "Connection validity checks by target kind, handle and result",
			},
			[]string{"target", "handle", "accepted"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowgraph_runs_total",
				Help: "Completed llm node runs by model and outcome",
			},
			[]string{"model", "outcome"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowgraph_run_duration_seconds",
				Help:    "Duration of generation calls",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
			},
			[]string{"model"},
		),
	}
	reg.MustRegister(m.connections, m.runs, m.runDuration)
	return m
}

func (m *Metrics) ConnectionChecked(target flowgraph.Kind, handle string, accepted bool) {
	result := "false"
	if accepted {
		result = "true"
	}
	m.connections.WithLabelValues(string(target), handle, result).Inc()
}

func (m *Metrics) RunFinished(model string, outcome flowgraph.RunOutcome, elapsed time.Duration) {
	m.runs.WithLabelValues(model, string(outcome)).Inc()
	m.runDuration.WithLabelValues(model).Observe(elapsed.Seconds())
}
