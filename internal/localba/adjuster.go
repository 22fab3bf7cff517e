package localba

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/banshee-data/localba/internal/covis"
	"github.com/banshee-data/localba/internal/lbastats"
	"github.com/banshee-data/localba/internal/monitoring"
	"github.com/banshee-data/localba/internal/sfm"
	"github.com/banshee-data/localba/internal/solver"
	"github.com/banshee-data/localba/internal/timeutil"
)

var logf = monitoring.Component("localba")

var (
	// ErrSolverFailed is returned when the solver did not converge. The
	// reconstruction is left unchanged.
	ErrSolverFailed = errors.New("bundle adjustment failed")
	// ErrEmptyProblem is returned when no residual could be built.
	ErrEmptyProblem = errors.New("bundle adjustment problem has no residuals")
)

// Adjuster builds a solver problem from a reconstruction and adjusts it.
type Adjuster interface {
	Adjust(ctx context.Context, r *sfm.Reconstruction) (Result, error)
}

var (
	_ Adjuster = (*FullAdjuster)(nil)
	_ Adjuster = (*LocalAdjuster)(nil)
)

// Result describes one adjustment call.
type Result struct {
	Summary solver.Summary
	States  *States
	Local   bool

	ParameterBlocks int
	ConstantBlocks  int
	ResidualBlocks  int
}

// solve packs r under st, runs s once and writes back on convergence.
func solve(ctx context.Context, s solver.Solver, r *sfm.Reconstruction, st *States, opts Options) (Result, error) {
	res := Result{States: st}
	pk, err := BuildProblem(r, st, opts.IsParameterOrderingEnabled())
	if err != nil {
		return res, fmt.Errorf("build problem: %w", err)
	}
	res.ParameterBlocks = pk.Problem.NumParameterBlocks()
	res.ConstantBlocks = pk.Problem.NumConstantBlocks()
	res.ResidualBlocks = pk.Problem.NumResidualBlocks()
	if res.ResidualBlocks == 0 {
		return res, ErrEmptyProblem
	}

	sum, err := s.Solve(ctx, pk.Problem, opts.solverOptions())
	res.Summary = sum
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrSolverFailed, err)
	}
	if !sum.Converged() {
		return res, fmt.Errorf("%w: %s: %s", ErrSolverFailed, sum.Termination, sum.Message)
	}
	pk.WriteBack(r)
	return res, nil
}

// FullAdjuster refines every parameter of the reconstruction.
type FullAdjuster struct {
	opts   Options
	solver solver.Solver
}

// NewFullAdjuster returns a full adjuster. A nil solver selects
// Levenberg-Marquardt.
func NewFullAdjuster(opts Options, s solver.Solver) *FullAdjuster {
	if s == nil {
		s = solver.NewLevenbergMarquardt()
	}
	return &FullAdjuster{opts: opts, solver: s}
}

// Adjust runs one full bundle adjustment.
func (a *FullAdjuster) Adjust(ctx context.Context, r *sfm.Reconstruction) (Result, error) {
	return solve(ctx, a.solver, r, AllRefined(r), a.opts)
}

// LocalAdjuster scopes each adjustment to the graph neighborhood of the
// views added since the previous call. It is not safe for concurrent use.
type LocalAdjuster struct {
	opts   Options
	solver solver.Solver
	clock  timeutil.Clock
	graph  *covis.Graph
	stats  *lbastats.Recorder

	// per-call state, cleared by Adjust
	newViews     []sfm.ViewID
	viewDist     DistanceMap
	poseDist     PoseDistanceMap
	states       *States
	rules        Rules
	graphTime    time.Duration
	distanceTime time.Duration
	classifyTime time.Duration
}

// NewLocalAdjuster returns a local adjuster with an empty co-visibility
// graph and a fresh statistics recorder. A nil solver selects
// Levenberg-Marquardt.
func NewLocalAdjuster(opts Options, s solver.Solver) *LocalAdjuster {
	if s == nil {
		s = solver.NewLevenbergMarquardt()
	}
	minShared := opts.MinSharedTracks
	if minShared <= 0 {
		minShared = covis.DefaultMinSharedTracks
	}
	return &LocalAdjuster{
		opts:   opts,
		solver: s,
		clock:  timeutil.RealClock{},
		graph:  covis.New(minShared),
		stats:  lbastats.NewRecorder(),
	}
}

// SetClock replaces the clock used for timings.
func (a *LocalAdjuster) SetClock(c timeutil.Clock) { a.clock = c }

// SetStatisticsContainer replaces the statistics recorder.
func (a *LocalAdjuster) SetStatisticsContainer(rec *lbastats.Recorder) { a.stats = rec }

// Statistics returns the statistics recorder.
func (a *LocalAdjuster) Statistics() *lbastats.Recorder { return a.stats }

// Graph returns the co-visibility graph.
func (a *LocalAdjuster) Graph() *covis.Graph { return a.graph }

// Options returns the adjuster options.
func (a *LocalAdjuster) Options() Options { return a.opts }

// ComputeDistancesMaps updates the co-visibility graph with newViews and
// recomputes view and pose distances. With local BA disabled the graph is
// left alone and every distance is Unreachable.
func (a *LocalAdjuster) ComputeDistancesMaps(r *sfm.Reconstruction, newViews []sfm.ViewID, tracks sfm.TracksPerView) {
	a.newViews = append(a.newViews[:0], newViews...)
	a.states = nil

	if !a.opts.IsLocalBAEnabled() {
		a.viewDist = DistanceMap{}
		a.poseDist = PoseDistances(r, a.viewDist)
		a.graphTime, a.distanceTime = 0, 0
		return
	}

	start := a.clock.Now()
	a.graph.Update(r, tracks, newViews)
	a.graphTime = a.clock.Since(start)

	start = a.clock.Now()
	a.viewDist = ComputeDistances(a.graph, newViews)
	a.poseDist = PoseDistances(r, a.viewDist)
	a.distanceTime = a.clock.Since(start)
}

// ApplyRefinementRules classifies every parameter of r. It falls back to a
// full adjustment when there are no new views or local BA is disabled.
func (a *LocalAdjuster) ApplyRefinementRules(r *sfm.Reconstruction, strategy Strategy, distanceLimit int) error {
	start := a.clock.Now()
	defer func() { a.classifyTime = a.clock.Since(start) }()

	a.rules = Rules{Strategy: strategy, DistanceLimit: distanceLimit}
	if !a.isLocal() {
		a.states = AllRefined(r)
		return nil
	}
	if a.poseDist == nil {
		a.poseDist = PoseDistances(r, a.viewDist)
	}
	st, err := a.rules.Apply(r, a.poseDist)
	if err != nil {
		return err
	}
	a.states = st
	return nil
}

func (a *LocalAdjuster) isLocal() bool {
	return a.opts.IsLocalBAEnabled() && len(a.newViews) > 0
}

// Adjust runs one adjustment on r. When ApplyRefinementRules was not called
// since the last adjustment, the configured strategy and distance limit are
// applied first. A statistics record is appended whatever the outcome.
func (a *LocalAdjuster) Adjust(ctx context.Context, r *sfm.Reconstruction) (Result, error) {
	if a.states == nil {
		if err := a.ApplyRefinementRules(r, a.opts.Strategy, a.opts.DistanceLimit); err != nil {
			return Result{}, err
		}
	}
	defer a.reset()

	local := a.isLocal()
	if a.opts.Verbose {
		pc, ic, lc := a.states.PoseCounts(), a.states.IntrinsicCounts(), a.states.LandmarkCounts()
		logf("local=%v new views=%d poses %d/%d/%d intrinsics %d/%d/%d landmarks %d/%d/%d (refined/constant/ignored)",
			local, len(a.newViews),
			pc.Refined, pc.Constant, pc.Ignored,
			ic.Refined, ic.Constant, ic.Ignored,
			lc.Refined, lc.Constant, lc.Ignored)
	}

	start := a.clock.Now()
	res, err := solve(ctx, a.solver, r, a.states, a.opts)
	solveTime := a.clock.Since(start)
	res.Local = local

	rec := a.record(res, solveTime)
	if a.stats != nil {
		a.stats.Append(rec)
	}
	if err != nil {
		logf("adjustment failed: %v", err)
		return res, err
	}
	return res, nil
}

// AdjustNewViews updates the graph, classifies and adjusts in one call.
func (a *LocalAdjuster) AdjustNewViews(ctx context.Context, r *sfm.Reconstruction, tracks sfm.TracksPerView, newViews []sfm.ViewID) (Result, error) {
	a.ComputeDistancesMaps(r, newViews, tracks)
	if err := a.ApplyRefinementRules(r, a.opts.Strategy, a.opts.DistanceLimit); err != nil {
		return Result{}, err
	}
	return a.Adjust(ctx, r)
}

func (a *LocalAdjuster) record(res Result, solveTime time.Duration) lbastats.Record {
	rec := lbastats.Record{
		Timestamp:       a.clock.Now(),
		NewViews:        len(a.newViews),
		LocalBA:         res.Local,
		Strategy:        int(a.rules.Strategy),
		DistanceLimit:   a.rules.DistanceLimit,
		GraphNodes:      a.graph.NodeCount(),
		GraphEdges:      a.graph.EdgeCount(),
		Distances:       a.viewDist.Histogram(),
		ParameterBlocks: res.ParameterBlocks,
		ConstantBlocks:  res.ConstantBlocks,
		ResidualBlocks:  res.ResidualBlocks,
		Converged:       res.Summary.Converged() && res.ResidualBlocks > 0,
		Termination:     res.Summary.Termination.String(),
		Iterations:      res.Summary.Iterations,
		InitialCost:     res.Summary.InitialCost,
		FinalCost:       res.Summary.FinalCost,
		GraphTime:       a.graphTime,
		DistanceTime:    a.distanceTime,
		ClassifyTime:    a.classifyTime,
		SolveTime:       solveTime,
	}
	if res.ResidualBlocks == 0 {
		rec.Termination = "empty"
	}
	if res.States != nil {
		rec.Poses = res.States.PoseCounts()
		rec.Intrinsics = res.States.IntrinsicCounts()
		rec.Landmarks = res.States.LandmarkCounts()
	}
	rec.TotalTime = rec.GraphTime + rec.DistanceTime + rec.ClassifyTime + rec.SolveTime
	return rec
}

func (a *LocalAdjuster) reset() {
	a.newViews = a.newViews[:0]
	a.viewDist = nil
	a.poseDist = nil
	a.states = nil
	a.graphTime, a.distanceTime, a.classifyTime = 0, 0, 0
}

// ExportStatistics writes the statistics history to dir/BaStats.txt.
func (a *LocalAdjuster) ExportStatistics(dir string) error {
	if a.stats == nil {
		return errors.New("no statistics container")
	}
	path := filepath.Join(dir, lbastats.DefaultFileName)
	if err := a.stats.Export(path); err != nil {
		logf("failed to export statistics to %s: %v", path, err)
		return err
	}
	return nil
}

// ViewDistance returns the distance of a view computed for the pending call.
func (a *LocalAdjuster) ViewDistance(id sfm.ViewID) (int, bool) {
	d, ok := a.viewDist[id]
	return d, ok
}

// PoseDistance returns the distance of a pose computed for the pending call.
func (a *LocalAdjuster) PoseDistance(id sfm.PoseID) (int, bool) {
	d, ok := a.poseDist[id]
	return d, ok
}

// PoseState returns the state of a pose for the pending call.
func (a *LocalAdjuster) PoseState(id sfm.PoseID) State {
	if a.states == nil {
		return Ignored
	}
	return a.states.Pose(id)
}

// IntrinsicState returns the state of an intrinsic group for the pending call.
func (a *LocalAdjuster) IntrinsicState(id sfm.IntrinsicID) State {
	if a.states == nil {
		return Ignored
	}
	return a.states.Intrinsic(id)
}

// LandmarkState returns the state of a landmark for the pending call.
func (a *LocalAdjuster) LandmarkState(id sfm.LandmarkID) State {
	if a.states == nil {
		return Ignored
	}
	return a.states.Landmark(id)
}
