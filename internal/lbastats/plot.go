package lbastats

import (
	"errors"
	"fmt"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// ErrNoRecords is returned when a chart is requested for an empty history.
var ErrNoRecords = errors.New("no statistics records")

// DistanceLabels returns the histogram bucket names in Histogram order.
func DistanceLabels() []string {
	labels := make([]string, 0, HistogramBuckets+2)
	for d := 0; d < HistogramBuckets; d++ {
		labels = append(labels, strconv.Itoa(d))
	}
	return append(labels, strconv.Itoa(HistogramBuckets)+"+", "unreachable")
}

// Values returns the bucket counts in DistanceLabels order.
func (h Histogram) Values() []float64 {
	vals := make([]float64, 0, HistogramBuckets+2)
	for _, c := range h.Buckets {
		vals = append(vals, float64(c))
	}
	return append(vals, float64(h.Overflow), float64(h.Unreachable))
}

// PlotDistanceHistogram saves a bar chart of the view distances of rec. The
// image format follows the extension of path.
func PlotDistanceHistogram(rec Record, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Call %d - View Distances", rec.Call)
	p.X.Label.Text = "Graph distance to new views"
	p.Y.Label.Text = "Views"

	bars, err := plotter.NewBarChart(plotter.Values(rec.Distances.Values()), vg.Points(18))
	if err != nil {
		return fmt.Errorf("distance bars: %w", err)
	}
	bars.Color = plotutil.Color(0)
	p.Add(bars)
	p.NominalX(DistanceLabels()...)

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save distance plot: %w", err)
	}
	return nil
}

// PlotStateCounts saves one line per state and category over the calls of
// recs.
func PlotStateCounts(recs []Record, path string) error {
	if len(recs) == 0 {
		return ErrNoRecords
	}
	p := plot.New()
	p.Title.Text = "Parameter States per Adjustment"
	p.X.Label.Text = "Call"
	p.Y.Label.Text = "Parameters"

	series := []struct {
		label string
		value func(Record) int
	}{
		{"poses refined", func(r Record) int { return r.Poses.Refined }},
		{"poses constant", func(r Record) int { return r.Poses.Constant }},
		{"intrinsics refined", func(r Record) int { return r.Intrinsics.Refined }},
		{"landmarks refined", func(r Record) int { return r.Landmarks.Refined }},
		{"landmarks constant", func(r Record) int { return r.Landmarks.Constant }},
	}
	for i, s := range series {
		pts := make(plotter.XYs, 0, len(recs))
		for _, rec := range recs {
			pts = append(pts, plotter.XY{X: float64(rec.Call), Y: float64(s.value(rec))})
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("%s line: %w", s.label, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.label, line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save state plot: %w", err)
	}
	return nil
}
