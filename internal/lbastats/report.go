package lbastats

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// Report file names written by ExportReport.
const (
	DistancePlotFile = "distances.png"
	StatePlotFile    = "states.png"
	DashboardFile    = "dashboard.html"
)

// ExportReport writes the statistics table, the charts and the dashboard to
// dir. With no records only the table is written.
func (r *Recorder) ExportReport(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	recs := r.Records()

	var g errgroup.Group
	g.Go(func() error {
		return r.Export(filepath.Join(dir, DefaultFileName))
	})
	if len(recs) > 0 {
		g.Go(func() error {
			return PlotDistanceHistogram(recs[len(recs)-1], filepath.Join(dir, DistancePlotFile))
		})
		g.Go(func() error {
			return PlotStateCounts(recs, filepath.Join(dir, StatePlotFile))
		})
		g.Go(func() error {
			f, err := os.Create(filepath.Join(dir, DashboardFile))
			if err != nil {
				return fmt.Errorf("create dashboard: %w", err)
			}
			if err := RenderDashboard(f, recs); err != nil {
				f.Close()
				return fmt.Errorf("render dashboard: %w", err)
			}
			return f.Close()
		})
	}
	return g.Wait()
}
