package localba

import (
	"fmt"

	"github.com/banshee-data/localba/internal/sfm"
)

// Rules selects the classification policy of one adjustment call.
type Rules struct {
	Strategy      Strategy
	DistanceLimit int
}

// poseState maps a pose distance to a state.
func (rl Rules) poseState(d int) State {
	switch {
	case d == Unreachable || d < 0:
		return Ignored
	case d <= rl.DistanceLimit:
		return Refined
	case d == rl.DistanceLimit+1:
		return Constant
	default:
		return Ignored
	}
}

// Apply assigns a state to every pose, intrinsic group and landmark of r.
// poseDist must come from PoseDistances; missing poses are Unreachable.
func (rl Rules) Apply(r *sfm.Reconstruction, poseDist PoseDistanceMap) (*States, error) {
	if !rl.Strategy.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, int(rl.Strategy))
	}
	if rl.DistanceLimit < 0 {
		return nil, fmt.Errorf("distance limit must be non-negative, got %d", rl.DistanceLimit)
	}

	st := newStates(r)
	for id := range r.Poses {
		d, ok := poseDist[id]
		if !ok {
			d = Unreachable
		}
		st.Poses[id] = rl.poseState(d)
	}

	// Intrinsics: escalate over the poses of the registered views using them.
	for id := range r.Intrinsics {
		st.Intrinsics[id] = Ignored
	}
	for _, vid := range r.RegisteredViewIDs() {
		v := r.Views[vid]
		if _, ok := r.Intrinsics[v.IntrinsicID]; !ok {
			continue
		}
		ps := st.Pose(v.PoseID)
		if rl.Strategy == StrategyFreezeIntrinsics && ps == Refined {
			ps = Constant
		}
		st.Intrinsics[v.IntrinsicID] = escalate(st.Intrinsics[v.IntrinsicID], ps)
	}

	for id, lm := range r.Landmarks {
		best := Ignored
		for vid := range lm.Observations {
			if !r.IsRegistered(vid) {
				continue
			}
			best = escalate(best, st.Pose(r.Views[vid].PoseID))
			if best == Refined {
				break
			}
		}
		if best == Constant && rl.Strategy != StrategyConstantBoundaryLandmarks {
			best = Ignored
		}
		st.Landmarks[id] = best
	}
	return st, nil
}

// AllRefined marks every parameter of r Refined. It is the full adjustment
// fallback.
func AllRefined(r *sfm.Reconstruction) *States {
	st := newStates(r)
	for id := range r.Poses {
		st.Poses[id] = Refined
	}
	for id := range r.Intrinsics {
		st.Intrinsics[id] = Refined
	}
	for id := range r.Landmarks {
		st.Landmarks[id] = Refined
	}
	return st
}
