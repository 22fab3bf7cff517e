// Package lbastats records one entry per bundle adjustment call (parameter
// state counts, graph size, distance histogram, solver outcome, timings) and
// exports the history as a fixed-column tab-separated table, plots, an HTML
// dashboard and Prometheus metrics.
//
// Statistics are auxiliary: export failures are reported to the caller but
// never affect the adjustment they describe.
package lbastats

import "time"

// HistogramBuckets is the number of per-distance buckets. Distances at or
// beyond it land in the overflow bucket.
const HistogramBuckets = 10

// StateCounts counts parameters per optimization state.
type StateCounts struct {
	Refined  int
	Constant int
	Ignored  int
}

// Total returns the number of classified parameters.
func (c StateCounts) Total() int { return c.Refined + c.Constant + c.Ignored }

// Histogram counts views per graph distance.
type Histogram struct {
	Buckets     [HistogramBuckets]int
	Overflow    int
	Unreachable int
}

// Add counts one distance; negative distances are unreachable.
func (h *Histogram) Add(d int) {
	switch {
	case d < 0:
		h.Unreachable++
	case d >= HistogramBuckets:
		h.Overflow++
	default:
		h.Buckets[d]++
	}
}

// Total returns the number of counted views.
func (h Histogram) Total() int {
	n := h.Overflow + h.Unreachable
	for _, c := range h.Buckets {
		n += c
	}
	return n
}

// Record describes one adjustment call.
type Record struct {
	SessionID string
	Call      int
	Timestamp time.Time

	NewViews      int
	LocalBA       bool
	Strategy      int
	DistanceLimit int

	Poses      StateCounts
	Intrinsics StateCounts
	Landmarks  StateCounts

	GraphNodes int
	GraphEdges int
	Distances  Histogram

	ParameterBlocks int
	ConstantBlocks  int
	ResidualBlocks  int

	Converged   bool
	Termination string
	Iterations  int
	InitialCost float64
	FinalCost   float64

	GraphTime    time.Duration
	DistanceTime time.Duration
	ClassifyTime time.Duration
	SolveTime    time.Duration
	TotalTime    time.Duration
}
