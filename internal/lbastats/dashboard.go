package lbastats

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// RenderDashboard writes an HTML page with the state counts, solver costs
// and timings of recs, and the distance histogram of the last call.
func RenderDashboard(w io.Writer, recs []Record) error {
	if len(recs) == 0 {
		return ErrNoRecords
	}
	calls := make([]string, 0, len(recs))
	var (
		posesRefined, posesConstant, landmarksRefined []opts.BarData
		initialCost, finalCost, solveMs               []opts.LineData
	)
	for _, rec := range recs {
		calls = append(calls, strconv.Itoa(rec.Call))
		posesRefined = append(posesRefined, opts.BarData{Value: rec.Poses.Refined})
		posesConstant = append(posesConstant, opts.BarData{Value: rec.Poses.Constant})
		landmarksRefined = append(landmarksRefined, opts.BarData{Value: rec.Landmarks.Refined})
		initialCost = append(initialCost, opts.LineData{Value: rec.InitialCost})
		finalCost = append(finalCost, opts.LineData{Value: rec.FinalCost})
		solveMs = append(solveMs, opts.LineData{Value: float64(rec.SolveTime.Microseconds()) / 1000})
	}

	states := charts.NewBar()
	states.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Parameter States", Subtitle: fmt.Sprintf("session=%s calls=%d", recs[0].SessionID, len(recs))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	states.SetXAxis(calls).
		AddSeries("poses refined", posesRefined).
		AddSeries("poses constant", posesConstant).
		AddSeries("landmarks refined", landmarksRefined)

	costs := charts.NewLine()
	costs.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Solver"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	costs.SetXAxis(calls).
		AddSeries("initial cost", initialCost).
		AddSeries("final cost", finalCost).
		AddSeries("solve ms", solveMs)

	last := recs[len(recs)-1]
	dist := make([]opts.BarData, 0, HistogramBuckets+2)
	for _, v := range last.Distances.Values() {
		dist = append(dist, opts.BarData{Value: v})
	}
	hist := charts.NewBar()
	hist.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "View Distances", Subtitle: fmt.Sprintf("call %d", last.Call)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	hist.SetXAxis(DistanceLabels()).
		AddSeries("views", dist,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.PageTitle = "Local BA Statistics"
	page.AddCharts(states, costs, hist)
	return page.Render(w)
}

// DashboardHandler serves RenderDashboard over the history of rec.
func DashboardHandler(rec *Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := RenderDashboard(&buf, rec.Records()); err != nil {
			http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	}
}
