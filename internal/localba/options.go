package localba

import (
	"fmt"

	"github.com/banshee-data/localba/internal/config"
	"github.com/banshee-data/localba/internal/covis"
	"github.com/banshee-data/localba/internal/solver"
)

// Options configures an adjuster.
type Options struct {
	Verbose    bool
	NumThreads int

	Strategy        Strategy
	DistanceLimit   int
	MinSharedTracks int

	Solver solver.Options

	useParametersOrdering bool
	useLocalBA            bool
}

// NewOptions returns options with local BA and parameter ordering enabled,
// strategy 0 and a distance limit of 1.
func NewOptions(verbose bool, numThreads int) Options {
	return Options{
		Verbose:               verbose,
		NumThreads:            numThreads,
		Strategy:              StrategyRefineIntrinsics,
		DistanceLimit:         1,
		MinSharedTracks:       covis.DefaultMinSharedTracks,
		Solver:                solver.DefaultOptions(),
		useParametersOrdering: true,
		useLocalBA:            true,
	}
}

// OptionsFromConfig converts a validated config.
func OptionsFromConfig(cfg *config.LocalBAConfig) (Options, error) {
	if err := cfg.Validate(); err != nil {
		return Options{}, err
	}
	ls, err := solver.ParseLinearSolverType(cfg.GetLinearSolver())
	if err != nil {
		return Options{}, err
	}
	strategy := Strategy(cfg.GetStrategy())
	if !strategy.Valid() {
		return Options{}, fmt.Errorf("%w: %d", ErrUnknownStrategy, cfg.GetStrategy())
	}

	o := NewOptions(cfg.GetVerbose(), cfg.GetNumThreads())
	o.Strategy = strategy
	o.DistanceLimit = cfg.GetDistanceLimit()
	o.MinSharedTracks = cfg.GetMinSharedTracks()
	o.Solver.MaxIterations = cfg.GetMaxIterations()
	o.Solver.LinearSolver = ls
	o.Solver.FunctionTolerance = cfg.GetFunctionTolerance()
	o.Solver.ParameterTolerance = cfg.GetParameterTolerance()
	o.Solver.MaxTime = cfg.GetMaxSolverTime()
	o.useParametersOrdering = cfg.GetUseParametersOrdering()
	o.useLocalBA = cfg.GetUseLocalBA()
	return o, nil
}

func (o *Options) EnableParametersOrdering() { o.useParametersOrdering = true }
func (o *Options) DisableParametersOrdering() { o.useParametersOrdering = false }
func (o Options) IsParameterOrderingEnabled() bool { return o.useParametersOrdering }
func (o *Options) EnableLocalBA() { o.useLocalBA = true }
func (o *Options) DisableLocalBA() { o.useLocalBA = false }
func (o Options) IsLocalBAEnabled() bool { return o.useLocalBA }

// solverOptions merges the adjuster-level knobs into the solver options.
func (o Options) solverOptions() solver.Options {
	so := o.Solver
	so.Verbose = o.Verbose
	so.NumThreads = o.NumThreads
	return so
}
