package localba

import (
	"fmt"

	"github.com/banshee-data/localba/internal/sfm"
	"github.com/banshee-data/localba/internal/solver"
)

// Ordering groups handed to the solver when parameter ordering is enabled.
const (
	orderingLandmarks = 0
	orderingCameras   = 1
)

// reprojectionCost is the residual of one observation over the blocks
// (pose, intrinsic, landmark).
type reprojectionCost struct {
	model    sfm.IntrinsicModel
	observed [2]float64
}

func (reprojectionCost) NumResiduals() int { return 2 }

func (c reprojectionCost) Evaluate(params [][]float64, residuals []float64) bool {
	pose, intrinsic, point := params[0], params[1], params[2]
	X := [3]float64{point[0], point[1], point[2]}
	e, ok := sfm.ReprojectionError(c.model, intrinsic, pose, X, c.observed)
	if !ok {
		return false
	}
	residuals[0], residuals[1] = e[0], e[1]
	return true
}

// Packed is a solver problem built from a reconstruction together with the
// buffers backing its parameter blocks.
type Packed struct {
	Problem *solver.Problem

	poses      map[sfm.PoseID][]float64
	intrinsics map[sfm.IntrinsicID][]float64
	landmarks  map[sfm.LandmarkID][]float64

	states *States
	blocks map[*float64]*solver.ParameterBlock
}

// BuildProblem packs the refined and constant parameters of r. Refined poses
// and intrinsics always get a block. Constant ones, and landmarks, get a
// block only once a residual needs them. A residual is added for every
// observation of a non-ignored landmark whose pose and intrinsic are not
// ignored and where at least one of the three blocks is refined.
func BuildProblem(r *sfm.Reconstruction, st *States, useOrdering bool) (*Packed, error) {
	pk := &Packed{
		Problem:    solver.NewProblem(),
		poses:      make(map[sfm.PoseID][]float64),
		intrinsics: make(map[sfm.IntrinsicID][]float64),
		landmarks:  make(map[sfm.LandmarkID][]float64),
		states:     st,
		blocks:     make(map[*float64]*solver.ParameterBlock),
	}

	for _, id := range r.PoseIDs() {
		if st.Pose(id) == Refined {
			if _, err := pk.poseBlock(r, id, useOrdering); err != nil {
				return nil, err
			}
		}
	}
	for _, id := range r.IntrinsicIDs() {
		if st.Intrinsic(id) == Refined {
			if _, err := pk.intrinsicBlock(r, id, useOrdering); err != nil {
				return nil, err
			}
		}
	}

	for _, lid := range r.LandmarkIDs() {
		ls := st.Landmark(lid)
		if ls == Ignored {
			continue
		}
		lm := r.Landmarks[lid]
		for _, vid := range lm.ObservingViews() {
			if !r.IsRegistered(vid) {
				continue
			}
			v := r.Views[vid]
			ps, is := st.Pose(v.PoseID), st.Intrinsic(v.IntrinsicID)
			if ps == Ignored || is == Ignored {
				continue
			}
			if ps != Refined && is != Refined && ls != Refined {
				continue
			}
			pb, err := pk.poseBlock(r, v.PoseID, useOrdering)
			if err != nil {
				return nil, err
			}
			ib, err := pk.intrinsicBlock(r, v.IntrinsicID, useOrdering)
			if err != nil {
				return nil, err
			}
			lb, err := pk.landmarkBlock(r, lid, useOrdering)
			if err != nil {
				return nil, err
			}
			cost := reprojectionCost{
				model:    r.Intrinsics[v.IntrinsicID].Model,
				observed: lm.Observations[vid].X,
			}
			if _, err := pk.Problem.AddResidualBlock(cost, pb, ib, lb); err != nil {
				return nil, fmt.Errorf("add residual for landmark %d in view %d: %w", lid, vid, err)
			}
		}
	}
	return pk, nil
}

func (pk *Packed) addBlock(values []float64, state State, group int, useOrdering bool) (*solver.ParameterBlock, error) {
	b, err := pk.Problem.AddParameterBlock(values)
	if err != nil {
		return nil, err
	}
	if state != Refined {
		pk.Problem.SetParameterBlockConstant(b)
	}
	if useOrdering {
		pk.Problem.SetOrdering(b, group)
	}
	pk.blocks[&values[0]] = b
	return b, nil
}

func (pk *Packed) poseBlock(r *sfm.Reconstruction, id sfm.PoseID, useOrdering bool) (*solver.ParameterBlock, error) {
	if buf, ok := pk.poses[id]; ok {
		return pk.blocks[&buf[0]], nil
	}
	buf := r.Poses[id].Params()
	pk.poses[id] = buf
	b, err := pk.addBlock(buf, pk.states.Pose(id), orderingCameras, useOrdering)
	if err != nil {
		return nil, fmt.Errorf("pose %d: %w", id, err)
	}
	return b, nil
}

func (pk *Packed) intrinsicBlock(r *sfm.Reconstruction, id sfm.IntrinsicID, useOrdering bool) (*solver.ParameterBlock, error) {
	if buf, ok := pk.intrinsics[id]; ok {
		return pk.blocks[&buf[0]], nil
	}
	in := r.Intrinsics[id]
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("intrinsic %d: %w", id, err)
	}
	buf := append([]float64(nil), in.Params...)
	pk.intrinsics[id] = buf
	b, err := pk.addBlock(buf, pk.states.Intrinsic(id), orderingCameras, useOrdering)
	if err != nil {
		return nil, fmt.Errorf("intrinsic %d: %w", id, err)
	}
	return b, nil
}

func (pk *Packed) landmarkBlock(r *sfm.Reconstruction, id sfm.LandmarkID, useOrdering bool) (*solver.ParameterBlock, error) {
	if buf, ok := pk.landmarks[id]; ok {
		return pk.blocks[&buf[0]], nil
	}
	X := r.Landmarks[id].X
	buf := []float64{X[0], X[1], X[2]}
	pk.landmarks[id] = buf
	b, err := pk.addBlock(buf, pk.states.Landmark(id), orderingLandmarks, useOrdering)
	if err != nil {
		return nil, fmt.Errorf("landmark %d: %w", id, err)
	}
	return b, nil
}

// NumPoseBlocks returns the number of pose blocks, constant ones included.
func (pk *Packed) NumPoseBlocks() int { return len(pk.poses) }

// NumIntrinsicBlocks returns the number of intrinsic blocks.
func (pk *Packed) NumIntrinsicBlocks() int { return len(pk.intrinsics) }

// NumLandmarkBlocks returns the number of landmark blocks.
func (pk *Packed) NumLandmarkBlocks() int { return len(pk.landmarks) }

// WriteBack copies the refined buffers into r. Constant and ignored
// parameters are left untouched. Call it only after a converged solve.
func (pk *Packed) WriteBack(r *sfm.Reconstruction) {
	for id, buf := range pk.poses {
		if pk.states.Pose(id) == Refined {
			r.Poses[id].SetParams(buf)
		}
	}
	for id, buf := range pk.intrinsics {
		if pk.states.Intrinsic(id) == Refined {
			copy(r.Intrinsics[id].Params, buf)
		}
	}
	for id, buf := range pk.landmarks {
		if pk.states.Landmark(id) == Refined {
			copy(r.Landmarks[id].X[:], buf)
		}
	}
}
