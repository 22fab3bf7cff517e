package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical local BA defaults file.
// This is the single source of truth for all default adjustment values.
const DefaultConfigPath = "config/localba.defaults.json"

// Linear solver names accepted by linear_solver.
const (
	LinearSolverDenseNormalCholesky = "dense_normal_cholesky"
	LinearSolverDenseQR             = "dense_qr"
)

// LocalBAConfig represents the root configuration of a local bundle
// adjustment session. Pointer fields distinguish "unset" from zero values so
// partial files fall back to the Get* defaults.
type LocalBAConfig struct {
	// Parameter scoping
	UseLocalBA            *bool `json:"use_local_ba,omitempty" yaml:"use_local_ba,omitempty"`
	UseParametersOrdering *bool `json:"use_parameters_ordering,omitempty" yaml:"use_parameters_ordering,omitempty"`
	Strategy              *int  `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	DistanceLimit         *int  `json:"distance_limit,omitempty" yaml:"distance_limit,omitempty"`
	MinSharedTracks       *int  `json:"min_shared_tracks,omitempty" yaml:"min_shared_tracks,omitempty"`

	// Solver pass-through
	MaxIterations      *int     `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	LinearSolver       *string  `json:"linear_solver,omitempty" yaml:"linear_solver,omitempty"`
	NumThreads         *int     `json:"num_threads,omitempty" yaml:"num_threads,omitempty"` // 0 = one per CPU
	Verbose            *bool    `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	FunctionTolerance  *float64 `json:"function_tolerance,omitempty" yaml:"function_tolerance,omitempty"`
	ParameterTolerance *float64 `json:"parameter_tolerance,omitempty" yaml:"parameter_tolerance,omitempty"`
	MaxSolverTime      *string  `json:"max_solver_time,omitempty" yaml:"max_solver_time,omitempty"` // duration string like "30s"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyLocalBAConfig returns a LocalBAConfig with all fields set to nil.
func EmptyLocalBAConfig() *LocalBAConfig {
	return &LocalBAConfig{}
}

// DefaultLocalBAConfig returns a fully populated config holding the same
// values as the Get* fallbacks.
func DefaultLocalBAConfig() *LocalBAConfig {
	return &LocalBAConfig{
		UseLocalBA:            ptrBool(true),
		UseParametersOrdering: ptrBool(false),
		Strategy:              ptrInt(0),
		DistanceLimit:         ptrInt(1),
		MinSharedTracks:       ptrInt(50),
		MaxIterations:         ptrInt(50),
		LinearSolver:          ptrString(LinearSolverDenseNormalCholesky),
		NumThreads:            ptrInt(0),
		Verbose:               ptrBool(false),
		FunctionTolerance:     ptrFloat64(1e-6),
		ParameterTolerance:    ptrFloat64(1e-8),
		MaxSolverTime:         ptrString(""),
	}
}

// LoadLocalBAConfig loads a LocalBAConfig from a JSON or YAML file, chosen
// by extension. Fields omitted from the file retain their default values, so
// partial configs are safe.
func LoadLocalBAConfig(path string) (*LocalBAConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyLocalBAConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *LocalBAConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/localba/ and deeper
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadLocalBAConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *LocalBAConfig) Validate() error {
	if c.Strategy != nil && (*c.Strategy < 0 || *c.Strategy > 2) {
		return fmt.Errorf("strategy must be 0, 1 or 2, got %d", *c.Strategy)
	}
	if c.DistanceLimit != nil && *c.DistanceLimit < 0 {
		return fmt.Errorf("distance_limit must be non-negative, got %d", *c.DistanceLimit)
	}
	if c.MinSharedTracks != nil && *c.MinSharedTracks < 1 {
		return fmt.Errorf("min_shared_tracks must be at least 1, got %d", *c.MinSharedTracks)
	}
	if c.MaxIterations != nil && *c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", *c.MaxIterations)
	}
	if c.NumThreads != nil && *c.NumThreads < 0 {
		return fmt.Errorf("num_threads must be non-negative, got %d", *c.NumThreads)
	}
	if c.LinearSolver != nil {
		switch *c.LinearSolver {
		case "", LinearSolverDenseNormalCholesky, LinearSolverDenseQR:
		default:
			return fmt.Errorf("unknown linear_solver %q", *c.LinearSolver)
		}
	}
	if c.FunctionTolerance != nil && *c.FunctionTolerance <= 0 {
		return fmt.Errorf("function_tolerance must be positive, got %g", *c.FunctionTolerance)
	}
	if c.ParameterTolerance != nil && *c.ParameterTolerance <= 0 {
		return fmt.Errorf("parameter_tolerance must be positive, got %g", *c.ParameterTolerance)
	}
	if c.MaxSolverTime != nil && *c.MaxSolverTime != "" {
		if _, err := time.ParseDuration(*c.MaxSolverTime); err != nil {
			return fmt.Errorf("invalid max_solver_time '%s': %w", *c.MaxSolverTime, err)
		}
	}
	return nil
}

// GetUseLocalBA returns the use_local_ba value or the default.
func (c *LocalBAConfig) GetUseLocalBA() bool {
	if c.UseLocalBA == nil {
		return true
	}
	return *c.UseLocalBA
}

// GetUseParametersOrdering returns the use_parameters_ordering value or the default.
func (c *LocalBAConfig) GetUseParametersOrdering() bool {
	if c.UseParametersOrdering == nil {
		return false
	}
	return *c.UseParametersOrdering
}

// GetStrategy returns the strategy value or the default.
func (c *LocalBAConfig) GetStrategy() int {
	if c.Strategy == nil {
		return 0
	}
	return *c.Strategy
}

// GetDistanceLimit returns the distance_limit value or the default.
func (c *LocalBAConfig) GetDistanceLimit() int {
	if c.DistanceLimit == nil {
		return 1
	}
	return *c.DistanceLimit
}

// GetMinSharedTracks returns the min_shared_tracks value or the default.
func (c *LocalBAConfig) GetMinSharedTracks() int {
	if c.MinSharedTracks == nil {
		return 50
	}
	return *c.MinSharedTracks
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *LocalBAConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 50
	}
	return *c.MaxIterations
}

// GetLinearSolver returns the linear_solver value or the default.
func (c *LocalBAConfig) GetLinearSolver() string {
	if c.LinearSolver == nil || *c.LinearSolver == "" {
		return LinearSolverDenseNormalCholesky
	}
	return *c.LinearSolver
}

// GetNumThreads returns the num_threads value, resolving 0 to the CPU count.
func (c *LocalBAConfig) GetNumThreads() int {
	if c.NumThreads == nil || *c.NumThreads == 0 {
		return runtime.NumCPU()
	}
	return *c.NumThreads
}

// GetVerbose returns the verbose value or the default.
func (c *LocalBAConfig) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}

// GetFunctionTolerance returns the function_tolerance value or the default.
func (c *LocalBAConfig) GetFunctionTolerance() float64 {
	if c.FunctionTolerance == nil {
		return 1e-6
	}
	return *c.FunctionTolerance
}

// GetParameterTolerance returns the parameter_tolerance value or the default.
func (c *LocalBAConfig) GetParameterTolerance() float64 {
	if c.ParameterTolerance == nil {
		return 1e-8
	}
	return *c.ParameterTolerance
}

// GetMaxSolverTime parses and returns MaxSolverTime; zero means no limit.
func (c *LocalBAConfig) GetMaxSolverTime() time.Duration {
	if c.MaxSolverTime == nil || *c.MaxSolverTime == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.MaxSolverTime)
	if err != nil {
		return 0
	}
	return d
}
