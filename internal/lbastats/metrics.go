package lbastats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors fed by Recorder.Append.
type Metrics struct {
	AdjustmentsTotal *prometheus.CounterVec
	ParameterStates  *prometheus.GaugeVec
	GraphNodes       prometheus.Gauge
	GraphEdges       prometheus.Gauge
	SolveDuration    prometheus.Histogram
	FinalCost        prometheus.Gauge
	ResidualBlocks   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates the collectors and registers them on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		AdjustmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localba_adjustments_total",
				Help: "Bundle adjustment calls by mode (local, full) and result (converged, failed).",
			},
			[]string{"mode", "result"},
		),
		ParameterStates: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "localba_parameters",
				Help: "Parameters per category and optimization state in the last call.",
			},
			[]string{"category", "state"},
		),
		GraphNodes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "localba_graph_nodes",
				Help: "Views in the co-visibility graph.",
			},
		),
		GraphEdges: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "localba_graph_edges",
				Help: "Edges in the co-visibility graph.",
			},
		),
		SolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "localba_solve_duration_seconds",
				Help:    "Time spent in the nonlinear solver per call.",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
		),
		FinalCost: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "localba_final_cost",
				Help: "Final solver cost of the last call.",
			},
		),
		ResidualBlocks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "localba_residual_blocks",
				Help: "Residual blocks submitted in the last call.",
			},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.AdjustmentsTotal,
		m.ParameterStates,
		m.GraphNodes,
		m.GraphEdges,
		m.SolveDuration,
		m.FinalCost,
		m.ResidualBlocks,
	)
	return m
}

// Registry exposes the registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler serving the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe publishes one record.
func (m *Metrics) Observe(rec Record) {
	mode := "full"
	if rec.LocalBA {
		mode = "local"
	}
	result := "failed"
	if rec.Converged {
		result = "converged"
	}
	m.AdjustmentsTotal.WithLabelValues(mode, result).Inc()

	for category, counts := range map[string]StateCounts{
		"pose":      rec.Poses,
		"intrinsic": rec.Intrinsics,
		"landmark":  rec.Landmarks,
	} {
		m.ParameterStates.WithLabelValues(category, "refined").Set(float64(counts.Refined))
		m.ParameterStates.WithLabelValues(category, "constant").Set(float64(counts.Constant))
		m.ParameterStates.WithLabelValues(category, "ignored").Set(float64(counts.Ignored))
	}

	m.GraphNodes.Set(float64(rec.GraphNodes))
	m.GraphEdges.Set(float64(rec.GraphEdges))
	m.SolveDuration.Observe(rec.SolveTime.Seconds())
	m.FinalCost.Set(rec.FinalCost)
	m.ResidualBlocks.Set(float64(rec.ResidualBlocks))
}
