package solver

import (
	"context"
	"fmt"
	"time"
)

// LinearSolverType selects how the damped normal equations are solved.
type LinearSolverType int

const (
	// DenseNormalCholesky factorizes JᵀJ + μD with a Cholesky decomposition.
	DenseNormalCholesky LinearSolverType = iota
	// DenseQR solves the augmented least-squares system [J; √(μD)] with QR.
	DenseQR
)

func (t LinearSolverType) String() string {
	switch t {
	case DenseNormalCholesky:
		return "dense_normal_cholesky"
	case DenseQR:
		return "dense_qr"
	default:
		return fmt.Sprintf("linear_solver(%d)", int(t))
	}
}

// ParseLinearSolverType maps a config name to a LinearSolverType.
func ParseLinearSolverType(name string) (LinearSolverType, error) {
	switch name {
	case "", "dense_normal_cholesky":
		return DenseNormalCholesky, nil
	case "dense_qr":
		return DenseQR, nil
	default:
		return 0, fmt.Errorf("unknown linear solver %q", name)
	}
}

// Options configures one Solve call.
type Options struct {
	MaxIterations      int
	LinearSolver       LinearSolverType
	NumThreads         int // > 1 evaluates the Jacobian concurrently
	Verbose            bool
	FunctionTolerance  float64       // relative cost decrease below which the solve converged
	ParameterTolerance float64       // relative step size below which the solve converged
	GradientTolerance  float64       // max-norm of the gradient below which the solve converged
	MaxTime            time.Duration // 0 = unlimited
	InitialDamping     float64       // μ₀ = InitialDamping · max(diag(JᵀJ))
}

// DefaultOptions returns the options used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		MaxIterations:      50,
		LinearSolver:       DenseNormalCholesky,
		NumThreads:         1,
		FunctionTolerance:  1e-6,
		ParameterTolerance: 1e-8,
		GradientTolerance:  1e-10,
		InitialDamping:     1e-4,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.NumThreads <= 0 {
		o.NumThreads = d.NumThreads
	}
	if o.FunctionTolerance <= 0 {
		o.FunctionTolerance = d.FunctionTolerance
	}
	if o.ParameterTolerance <= 0 {
		o.ParameterTolerance = d.ParameterTolerance
	}
	if o.GradientTolerance <= 0 {
		o.GradientTolerance = d.GradientTolerance
	}
	if o.InitialDamping <= 0 {
		o.InitialDamping = d.InitialDamping
	}
	return o
}

// Termination describes why a solve stopped.
type Termination int

const (
	Convergence Termination = iota
	NoConvergence
	Failure
)

func (t Termination) String() string {
	switch t {
	case Convergence:
		return "convergence"
	case NoConvergence:
		return "no_convergence"
	case Failure:
		return "failure"
	default:
		return fmt.Sprintf("termination(%d)", int(t))
	}
}

// Summary reports the outcome of one Solve call.
type Summary struct {
	Termination        Termination
	Iterations         int
	InitialCost        float64
	FinalCost          float64
	Elapsed            time.Duration
	NumFreeParameters  int
	NumResiduals       int
	NumParameterBlocks int
	NumConstantBlocks  int
	LinearSolver       LinearSolverType
	Message            string
}

// Converged reports whether the solution was accepted.
func (s Summary) Converged() bool { return s.Termination == Convergence }

// BriefReport formats the summary on one line.
func (s Summary) BriefReport() string {
	return fmt.Sprintf("%s after %d iterations, cost %.6g -> %.6g, %d params, %d residuals, %s (%s)",
		s.Termination, s.Iterations, s.InitialCost, s.FinalCost,
		s.NumFreeParameters, s.NumResiduals, s.Elapsed.Round(time.Microsecond), s.Message)
}

// Solver minimizes a Problem. It blocks until done; ctx bounds the call.
type Solver interface {
	Solve(ctx context.Context, p *Problem, opts Options) (Summary, error)
}
