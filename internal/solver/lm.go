package solver

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/localba/internal/monitoring"
	"github.com/banshee-data/localba/internal/timeutil"
)

// maxDamping bounds μ; reaching it means no descent step exists.
const maxDamping = 1e32

// minDiagonal keeps Marquardt scaling positive for columns with no curvature.
const minDiagonal = 1e-12

// LevenbergMarquardt is a dense Levenberg-Marquardt solver with a
// finite-difference Jacobian. It works on a private copy of the free
// parameters and publishes them into the block buffers only on convergence.
type LevenbergMarquardt struct {
	Clock timeutil.Clock
}

// NewLevenbergMarquardt returns a solver timed with the real clock.
func NewLevenbergMarquardt() *LevenbergMarquardt {
	return &LevenbergMarquardt{Clock: timeutil.RealClock{}}
}

var lmLogf = monitoring.Component("solver")

// layout maps free blocks to offsets in the parameter vector.
type layout struct {
	free    []*ParameterBlock
	offsets map[*ParameterBlock]int
	n       int
	m       int
}

func newLayout(p *Problem) *layout {
	l := &layout{free: p.freeBlocks(), offsets: make(map[*ParameterBlock]int)}
	for _, b := range l.free {
		l.offsets[b] = l.n
		l.n += b.Size()
	}
	l.m = p.NumResiduals()
	return l
}

// residuals evaluates every residual block at x into r. It reports false if
// a cost function failed or produced a non-finite value.
func (l *layout) residuals(p *Problem, x, r []float64) bool {
	ok := true
	row := 0
	for _, rb := range p.residuals {
		params := make([][]float64, len(rb.Blocks))
		for i, b := range rb.Blocks {
			if off, free := l.offsets[b]; free {
				params[i] = x[off : off+b.Size()]
			} else {
				params[i] = b.values
			}
		}
		k := rb.Cost.NumResiduals()
		seg := r[row : row+k]
		if !rb.Cost.Evaluate(params, seg) {
			ok = false
			for i := range seg {
				seg[i] = math.NaN()
			}
		}
		row += k
	}
	for _, v := range r {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return ok
}

func halfSquaredNorm(r []float64) float64 {
	return 0.5 * floats.Dot(r, r)
}

// Solve minimizes 0.5·‖r(x)‖² over the free parameter blocks of p.
func (s *LevenbergMarquardt) Solve(ctx context.Context, p *Problem, opts Options) (Summary, error) {
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	opts = opts.withDefaults()
	start := clock.Now()

	l := newLayout(p)
	sum := Summary{
		Termination:        Failure,
		NumFreeParameters:  l.n,
		NumResiduals:       l.m,
		NumParameterBlocks: p.NumParameterBlocks(),
		NumConstantBlocks:  p.NumConstantBlocks(),
		LinearSolver:       opts.LinearSolver,
	}
	finish := func(t Termination, msg string) Summary {
		sum.Termination = t
		sum.Message = msg
		sum.Elapsed = clock.Since(start)
		if opts.Verbose {
			lmLogf("%s", sum.BriefReport())
		}
		return sum
	}

	if l.m == 0 {
		return finish(Failure, "problem has no residuals"), nil
	}

	x := make([]float64, l.n)
	for _, b := range l.free {
		copy(x[l.offsets[b]:], b.values)
	}

	r := make([]float64, l.m)
	if !l.residuals(p, x, r) {
		return finish(Failure, "residual evaluation failed at the initial point"), nil
	}
	cost := halfSquaredNorm(r)
	sum.InitialCost = cost
	sum.FinalCost = cost

	if l.n == 0 {
		return finish(Convergence, "no free parameters"), nil
	}

	var (
		jac  = mat.NewDense(l.m, l.n, nil)
		jtj  = mat.NewSymDense(l.n, nil)
		grad = mat.NewVecDense(l.n, nil)
		step = mat.NewVecDense(l.n, nil)
		diag = make([]float64, l.n)
	)
	jacSettings := &fd.JacobianSettings{
		Formula:    fd.Central,
		Concurrent: opts.NumThreads > 1,
	}
	linearize := func() bool {
		fd.Jacobian(jac, func(y, xx []float64) {
			l.residuals(p, xx, y)
		}, x, jacSettings)
		for i := 0; i < l.m; i++ {
			for j := 0; j < l.n; j++ {
				if v := jac.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
					return false
				}
			}
		}
		jtj.SymOuterK(1, jac.T())
		grad.MulVec(jac.T(), mat.NewVecDense(l.m, r))
		for i := range diag {
			diag[i] = math.Max(jtj.At(i, i), minDiagonal)
		}
		return true
	}
	if !linearize() {
		return finish(Failure, "non-finite Jacobian at the initial point"), nil
	}

	mu := opts.InitialDamping * floats.Max(diag)
	nu := 2.0
	xNew := make([]float64, l.n)
	rNew := make([]float64, l.m)

	for sum.Iterations < opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			return finish(NoConvergence, "cancelled"), err
		}
		if opts.MaxTime > 0 && clock.Since(start) > opts.MaxTime {
			return finish(NoConvergence, "maximum solver time reached"), nil
		}
		if mat.Norm(grad, math.Inf(1)) <= opts.GradientTolerance {
			return s.publish(l, x, finish(Convergence, "gradient tolerance reached"))
		}
		sum.Iterations++

		if err := s.solveDamped(opts.LinearSolver, jac, jtj, grad, r, diag, mu, step); err != nil {
			mu *= nu
			nu *= 2
			if mu > maxDamping {
				return finish(Failure, fmt.Sprintf("linear solve failed: %v", err)), nil
			}
			continue
		}

		h := step.RawVector().Data
		if floats.Norm(h, 2) <= opts.ParameterTolerance*(floats.Norm(x, 2)+opts.ParameterTolerance) {
			return s.publish(l, x, finish(Convergence, "parameter tolerance reached"))
		}

		floats.AddTo(xNew, x, h)
		valid := l.residuals(p, xNew, rNew)
		costNew := halfSquaredNorm(rNew)

		// predicted decrease: ½·hᵀ(μDh - g)
		predicted := 0.0
		for i, hi := range h {
			predicted += hi * (mu*diag[i]*hi - grad.AtVec(i))
		}
		predicted *= 0.5

		if valid && predicted > 0 && costNew < cost {
			rho := (cost - costNew) / predicted
			decrease := cost - costNew
			copy(x, xNew)
			copy(r, rNew)
			cost = costNew
			sum.FinalCost = cost
			if opts.Verbose {
				lmLogf("iter %d: cost %.6g, mu %.3g, rho %.3f", sum.Iterations, cost, mu, rho)
			}
			if decrease <= opts.FunctionTolerance*(cost+decrease) {
				return s.publish(l, x, finish(Convergence, "function tolerance reached"))
			}
			if !linearize() {
				return finish(Failure, "non-finite Jacobian"), nil
			}
			mu *= math.Max(1.0/3.0, 1-math.Pow(2*rho-1, 3))
			nu = 2
			continue
		}

		mu *= nu
		nu *= 2
		if mu > maxDamping {
			return finish(Failure, "damping exhausted without a descent step"), nil
		}
	}

	return finish(NoConvergence, "maximum iterations reached"), nil
}

// solveDamped solves (JᵀJ + μD)·h = -g into step.
func (s *LevenbergMarquardt) solveDamped(kind LinearSolverType, jac *mat.Dense, jtj *mat.SymDense, grad *mat.VecDense, r, diag []float64, mu float64, step *mat.VecDense) error {
	n := len(diag)
	switch kind {
	case DenseQR:
		m, _ := jac.Dims()
		aug := mat.NewDense(m+n, n, nil)
		aug.Slice(0, m, 0, n).(*mat.Dense).Copy(jac)
		for i := 0; i < n; i++ {
			aug.Set(m+i, i, math.Sqrt(mu*diag[i]))
		}
		rhs := mat.NewVecDense(m+n, nil)
		for i := 0; i < m; i++ {
			rhs.SetVec(i, -r[i])
		}
		var qr mat.QR
		qr.Factorize(aug)
		return qr.SolveVecTo(step, false, rhs)
	default:
		damped := mat.NewSymDense(n, nil)
		damped.CopySym(jtj)
		for i := 0; i < n; i++ {
			damped.SetSym(i, i, jtj.At(i, i)+mu*diag[i])
		}
		var chol mat.Cholesky
		if ok := chol.Factorize(damped); !ok {
			return errors.New("damped normal equations are not positive definite")
		}
		neg := mat.NewVecDense(n, nil)
		neg.ScaleVec(-1, grad)
		return chol.SolveVecTo(step, neg)
	}
}

// publish copies the solution into the free block buffers.
func (s *LevenbergMarquardt) publish(l *layout, x []float64, sum Summary) (Summary, error) {
	for _, b := range l.free {
		off := l.offsets[b]
		copy(b.values, x[off:off+b.Size()])
	}
	return sum, nil
}
