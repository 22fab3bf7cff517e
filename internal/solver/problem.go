// Package solver is the nonlinear least-squares boundary of the adjustment:
// a Problem made of fixed-size parameter blocks and residual blocks, a
// Solver interface, and a dense Levenberg-Marquardt implementation.
//
// Parameter blocks wrap caller-owned buffers. A Solver must only write the
// final values into those buffers when it reports convergence.
package solver

import (
	"errors"
	"fmt"
	"sort"
)

// CostFunction evaluates the residuals of one residual block. params holds
// one slice per parameter block, in the order the blocks were attached.
// Evaluate returns false when the residual is undefined at params.
// Implementations must be safe for concurrent use.
type CostFunction interface {
	NumResiduals() int
	Evaluate(params [][]float64, residuals []float64) bool
}

// ParameterBlock is one fixed-size optimizable entity.
type ParameterBlock struct {
	values   []float64
	constant bool
	index    int
	ordering int
}

// Values returns the caller-owned buffer.
func (b *ParameterBlock) Values() []float64 { return b.values }

// Size returns the block dimension.
func (b *ParameterBlock) Size() int { return len(b.values) }

// IsConstant reports whether the block is frozen.
func (b *ParameterBlock) IsConstant() bool { return b.constant }

// ResidualBlock ties a cost function to the parameter blocks it reads.
type ResidualBlock struct {
	Cost   CostFunction
	Blocks []*ParameterBlock
}

var (
	// ErrEmptyBlock is returned when adding a zero-length parameter block.
	ErrEmptyBlock = errors.New("parameter block has no values")
	// ErrUnknownBlock is returned when a residual references a block that
	// was not added to the problem.
	ErrUnknownBlock = errors.New("parameter block is not part of the problem")
)

// Problem is a nonlinear least-squares problem.
type Problem struct {
	blocks      []*ParameterBlock
	byBuffer    map[*float64]*ParameterBlock
	residuals   []*ResidualBlock
	hasOrdering bool
}

// NewProblem returns an empty problem.
func NewProblem() *Problem {
	return &Problem{byBuffer: make(map[*float64]*ParameterBlock)}
}

// AddParameterBlock registers values as a parameter block. Adding the same
// buffer twice returns the existing block.
func (p *Problem) AddParameterBlock(values []float64) (*ParameterBlock, error) {
	if len(values) == 0 {
		return nil, ErrEmptyBlock
	}
	if b, ok := p.byBuffer[&values[0]]; ok {
		if b.Size() != len(values) {
			return nil, fmt.Errorf("parameter block re-added with size %d, was %d", len(values), b.Size())
		}
		return b, nil
	}
	b := &ParameterBlock{values: values, index: len(p.blocks)}
	p.blocks = append(p.blocks, b)
	p.byBuffer[&values[0]] = b
	return b, nil
}

// SetParameterBlockConstant freezes b.
func (p *Problem) SetParameterBlockConstant(b *ParameterBlock) { b.constant = true }

// SetParameterBlockVariable unfreezes b.
func (p *Problem) SetParameterBlockVariable(b *ParameterBlock) { b.constant = false }

// SetOrdering assigns b to an elimination group. Lower groups come first in
// the solver's column layout.
func (p *Problem) SetOrdering(b *ParameterBlock, group int) {
	b.ordering = group
	p.hasOrdering = true
}

// HasOrdering reports whether any ordering hint was given.
func (p *Problem) HasOrdering() bool { return p.hasOrdering }

// AddResidualBlock attaches a residual over the given blocks.
func (p *Problem) AddResidualBlock(cost CostFunction, blocks ...*ParameterBlock) (*ResidualBlock, error) {
	if cost == nil {
		return nil, errors.New("nil cost function")
	}
	if len(blocks) == 0 {
		return nil, errors.New("residual block needs at least one parameter block")
	}
	for _, b := range blocks {
		if b == nil || b.index >= len(p.blocks) || p.blocks[b.index] != b {
			return nil, ErrUnknownBlock
		}
	}
	rb := &ResidualBlock{Cost: cost, Blocks: blocks}
	p.residuals = append(p.residuals, rb)
	return rb, nil
}

// ParameterBlocks returns the blocks in insertion order.
func (p *Problem) ParameterBlocks() []*ParameterBlock { return p.blocks }

// ResidualBlocks returns the residual blocks in insertion order.
func (p *Problem) ResidualBlocks() []*ResidualBlock { return p.residuals }

// NumParameterBlocks returns the number of blocks.
func (p *Problem) NumParameterBlocks() int { return len(p.blocks) }

// NumConstantBlocks returns the number of frozen blocks.
func (p *Problem) NumConstantBlocks() int {
	n := 0
	for _, b := range p.blocks {
		if b.constant {
			n++
		}
	}
	return n
}

// NumResidualBlocks returns the number of residual blocks.
func (p *Problem) NumResidualBlocks() int { return len(p.residuals) }

// NumResiduals returns the total residual dimension.
func (p *Problem) NumResiduals() int {
	n := 0
	for _, rb := range p.residuals {
		n += rb.Cost.NumResiduals()
	}
	return n
}

// freeBlocks returns the non-constant blocks that appear in at least one
// residual, sorted by ordering group then insertion order.
func (p *Problem) freeBlocks() []*ParameterBlock {
	used := make(map[*ParameterBlock]bool)
	for _, rb := range p.residuals {
		for _, b := range rb.Blocks {
			used[b] = true
		}
	}
	var free []*ParameterBlock
	for _, b := range p.blocks {
		if !b.constant && used[b] {
			free = append(free, b)
		}
	}
	sort.SliceStable(free, func(i, j int) bool {
		if free[i].ordering != free[j].ordering {
			return free[i].ordering < free[j].ordering
		}
		return free[i].index < free[j].index
	})
	return free
}
