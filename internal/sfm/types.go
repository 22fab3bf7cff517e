package sfm

import (
	"math"
	"sort"
)

// UndefinedIndex marks a view whose pose or intrinsic is not known yet.
const UndefinedIndex = math.MaxUint32

type (
	ViewID      uint32
	PoseID      uint32
	IntrinsicID uint32
	LandmarkID  uint32
	TrackID     uint32
)

// View is one registered camera image.
type View struct {
	ID          ViewID
	PoseID      PoseID
	IntrinsicID IntrinsicID
	ImagePath   string
}

// Pose is a world -> camera rigid transform: x_cam = R(Rotation)·X + Translation.
// Rotation is an angle-axis vector (radians). Several views may share a pose.
type Pose struct {
	Rotation    [3]float64
	Translation [3]float64
}

// PoseParamCount is the size of a packed pose block.
const PoseParamCount = 6

// Params packs the pose as [rx ry rz tx ty tz].
func (p *Pose) Params() []float64 {
	return []float64{
		p.Rotation[0], p.Rotation[1], p.Rotation[2],
		p.Translation[0], p.Translation[1], p.Translation[2],
	}
}

// SetParams unpacks a 6-vector produced by Params.
func (p *Pose) SetParams(v []float64) {
	copy(p.Rotation[:], v[0:3])
	copy(p.Translation[:], v[3:6])
}

// Center returns the camera centre in world coordinates (-Rᵀ·t).
func (p *Pose) Center() [3]float64 {
	return CameraCenter(p.Params())
}

// Observation is one 2D measurement of a landmark in a view.
type Observation struct {
	X         [2]float64
	FeatureID uint32
}

// Landmark is a triangulated 3D point and the views that observe it.
type Landmark struct {
	X            [3]float64
	Observations map[ViewID]Observation
}

// ObservingViews returns the observing view ids in ascending order.
func (l *Landmark) ObservingViews() []ViewID {
	ids := make([]ViewID, 0, len(l.Observations))
	for id := range l.Observations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// TracksPerView lists, per view, the sorted ids of the tracks it observes.
type TracksPerView map[ViewID][]TrackID

// Reconstruction is the mutable scene state.
type Reconstruction struct {
	Views      map[ViewID]*View
	Poses      map[PoseID]*Pose
	Intrinsics map[IntrinsicID]*Intrinsic
	Landmarks  map[LandmarkID]*Landmark
}

// NewReconstruction returns an empty reconstruction with allocated maps.
func NewReconstruction() *Reconstruction {
	return &Reconstruction{
		Views:      make(map[ViewID]*View),
		Poses:      make(map[PoseID]*Pose),
		Intrinsics: make(map[IntrinsicID]*Intrinsic),
		Landmarks:  make(map[LandmarkID]*Landmark),
	}
}

// IsRegistered reports whether the view exists and both its pose and
// intrinsic are present in the reconstruction.
func (r *Reconstruction) IsRegistered(id ViewID) bool {
	v, ok := r.Views[id]
	if !ok || v.PoseID == UndefinedIndex || v.IntrinsicID == UndefinedIndex {
		return false
	}
	if _, ok := r.Poses[v.PoseID]; !ok {
		return false
	}
	_, ok = r.Intrinsics[v.IntrinsicID]
	return ok
}

// ViewIDs returns all view ids in ascending order.
func (r *Reconstruction) ViewIDs() []ViewID {
	ids := make([]ViewID, 0, len(r.Views))
	for id := range r.Views {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RegisteredViewIDs returns the ids of registered views in ascending order.
func (r *Reconstruction) RegisteredViewIDs() []ViewID {
	all := r.ViewIDs()
	ids := all[:0]
	for _, id := range all {
		if r.IsRegistered(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// PoseIDs returns all pose ids in ascending order.
func (r *Reconstruction) PoseIDs() []PoseID {
	ids := make([]PoseID, 0, len(r.Poses))
	for id := range r.Poses {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IntrinsicIDs returns all intrinsic ids in ascending order.
func (r *Reconstruction) IntrinsicIDs() []IntrinsicID {
	ids := make([]IntrinsicID, 0, len(r.Intrinsics))
	for id := range r.Intrinsics {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// LandmarkIDs returns all landmark ids in ascending order.
func (r *Reconstruction) LandmarkIDs() []LandmarkID {
	ids := make([]LandmarkID, 0, len(r.Landmarks))
	for id := range r.Landmarks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ObservationCount returns the total number of landmark observations.
func (r *Reconstruction) ObservationCount() int {
	n := 0
	for _, l := range r.Landmarks {
		n += len(l.Observations)
	}
	return n
}

// Clone returns a deep copy of the reconstruction.
func (r *Reconstruction) Clone() *Reconstruction {
	out := NewReconstruction()
	for id, v := range r.Views {
		vc := *v
		out.Views[id] = &vc
	}
	for id, p := range r.Poses {
		pc := *p
		out.Poses[id] = &pc
	}
	for id, in := range r.Intrinsics {
		ic := *in
		ic.Params = append([]float64(nil), in.Params...)
		out.Intrinsics[id] = &ic
	}
	for id, l := range r.Landmarks {
		lc := &Landmark{X: l.X, Observations: make(map[ViewID]Observation, len(l.Observations))}
		for vid, o := range l.Observations {
			lc.Observations[vid] = o
		}
		out.Landmarks[id] = lc
	}
	return out
}

// TracksFromLandmarks derives per-view track lists using landmark ids as
// track ids. Only registered views are listed.
func TracksFromLandmarks(r *Reconstruction) TracksPerView {
	tracks := make(TracksPerView)
	for lid, l := range r.Landmarks {
		for vid := range l.Observations {
			if !r.IsRegistered(vid) {
				continue
			}
			tracks[vid] = append(tracks[vid], TrackID(lid))
		}
	}
	for vid := range tracks {
		ts := tracks[vid]
		sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
	}
	return tracks
}

// CountSharedTracks counts the common ids of two ascending track lists.
func CountSharedTracks(a, b []TrackID) int {
	n := 0
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i] == b[j]:
			n++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return n
}
