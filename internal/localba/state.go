package localba

import (
	"errors"
	"fmt"

	"github.com/banshee-data/localba/internal/lbastats"
	"github.com/banshee-data/localba/internal/sfm"
)

// State is the optimization state of one parameter. Lower values are more
// active.
type State int

const (
	Refined State = iota
	Constant
	Ignored
)

func (s State) String() string {
	switch s {
	case Refined:
		return "refined"
	case Constant:
		return "constant"
	case Ignored:
		return "ignored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// escalate returns the more active of a and b.
func escalate(a, b State) State {
	if a < b {
		return a
	}
	return b
}

// Strategy selects a classification rule set.
type Strategy int

const (
	StrategyRefineIntrinsics Strategy = iota
	StrategyFreezeIntrinsics
	StrategyConstantBoundaryLandmarks
)

// ErrUnknownStrategy is returned for a strategy id with no rule set.
var ErrUnknownStrategy = errors.New("unknown local BA strategy")

func (s Strategy) String() string {
	switch s {
	case StrategyRefineIntrinsics:
		return "refine_intrinsics"
	case StrategyFreezeIntrinsics:
		return "freeze_intrinsics"
	case StrategyConstantBoundaryLandmarks:
		return "constant_boundary_landmarks"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// Valid reports whether s names a rule set.
func (s Strategy) Valid() bool {
	return s >= StrategyRefineIntrinsics && s <= StrategyConstantBoundaryLandmarks
}

// StateCounts counts parameters per state.
type StateCounts = lbastats.StateCounts

// States holds the per-category state maps of one adjustment call. Every
// pose, intrinsic and landmark of the reconstruction has exactly one entry.
type States struct {
	Poses      map[sfm.PoseID]State
	Intrinsics map[sfm.IntrinsicID]State
	Landmarks  map[sfm.LandmarkID]State
}

func newStates(r *sfm.Reconstruction) *States {
	return &States{
		Poses:      make(map[sfm.PoseID]State, len(r.Poses)),
		Intrinsics: make(map[sfm.IntrinsicID]State, len(r.Intrinsics)),
		Landmarks:  make(map[sfm.LandmarkID]State, len(r.Landmarks)),
	}
}

// Pose returns the state of a pose; unknown ids are Ignored.
func (s *States) Pose(id sfm.PoseID) State {
	if st, ok := s.Poses[id]; ok {
		return st
	}
	return Ignored
}

// Intrinsic returns the state of an intrinsic group; unknown ids are Ignored.
func (s *States) Intrinsic(id sfm.IntrinsicID) State {
	if st, ok := s.Intrinsics[id]; ok {
		return st
	}
	return Ignored
}

// Landmark returns the state of a landmark; unknown ids are Ignored.
func (s *States) Landmark(id sfm.LandmarkID) State {
	if st, ok := s.Landmarks[id]; ok {
		return st
	}
	return Ignored
}

func countStates[K comparable](m map[K]State) StateCounts {
	var c StateCounts
	for _, st := range m {
		switch st {
		case Refined:
			c.Refined++
		case Constant:
			c.Constant++
		default:
			c.Ignored++
		}
	}
	return c
}

// PoseCounts counts pose states.
func (s *States) PoseCounts() StateCounts { return countStates(s.Poses) }

// IntrinsicCounts counts intrinsic states.
func (s *States) IntrinsicCounts() StateCounts { return countStates(s.Intrinsics) }

// LandmarkCounts counts landmark states.
func (s *States) LandmarkCounts() StateCounts { return countStates(s.Landmarks) }
