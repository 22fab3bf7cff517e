package sfm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// sceneFile is the on-disk JSON layout of a reconstruction.
type sceneFile struct {
	Views         []sceneView          `json:"views"`
	Poses         []scenePose          `json:"poses"`
	Intrinsics    []sceneIntrinsic     `json:"intrinsics"`
	Landmarks     []sceneLandmark      `json:"landmarks"`
	TracksPerView map[ViewID][]TrackID `json:"tracks_per_view,omitempty"`
}

type sceneView struct {
	ID          ViewID      `json:"id"`
	PoseID      PoseID      `json:"pose_id"`
	IntrinsicID IntrinsicID `json:"intrinsic_id"`
	ImagePath   string      `json:"image_path,omitempty"`
}

type scenePose struct {
	ID          PoseID     `json:"id"`
	Rotation    [3]float64 `json:"rotation"`
	Translation [3]float64 `json:"translation"`
}

type sceneIntrinsic struct {
	ID     IntrinsicID    `json:"id"`
	Model  IntrinsicModel `json:"model"`
	Width  int            `json:"width"`
	Height int            `json:"height"`
	Params []float64      `json:"params"`
}

type sceneObservation struct {
	ViewID    ViewID     `json:"view_id"`
	X         [2]float64 `json:"x"`
	FeatureID uint32     `json:"feature_id"`
}

type sceneLandmark struct {
	ID           LandmarkID         `json:"id"`
	X            [3]float64         `json:"x"`
	Observations []sceneObservation `json:"observations"`
}

// LoadScene reads a reconstruction and its track lists from a JSON file.
// When the file carries no tracks_per_view, tracks are derived from the
// landmarks.
func LoadScene(path string) (*Reconstruction, TracksPerView, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read scene: %w", err)
	}
	var sf sceneFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, nil, fmt.Errorf("failed to parse scene JSON: %w", err)
	}

	r := NewReconstruction()
	for _, v := range sf.Views {
		if _, dup := r.Views[v.ID]; dup {
			return nil, nil, fmt.Errorf("duplicate view id %d", v.ID)
		}
		r.Views[v.ID] = &View{ID: v.ID, PoseID: v.PoseID, IntrinsicID: v.IntrinsicID, ImagePath: v.ImagePath}
	}
	for _, p := range sf.Poses {
		r.Poses[p.ID] = &Pose{Rotation: p.Rotation, Translation: p.Translation}
	}
	for _, in := range sf.Intrinsics {
		intr := &Intrinsic{Model: in.Model, Width: in.Width, Height: in.Height, Params: in.Params}
		if err := intr.Validate(); err != nil {
			return nil, nil, fmt.Errorf("intrinsic %d: %w", in.ID, err)
		}
		r.Intrinsics[in.ID] = intr
	}
	for _, l := range sf.Landmarks {
		lm := &Landmark{X: l.X, Observations: make(map[ViewID]Observation, len(l.Observations))}
		for _, o := range l.Observations {
			lm.Observations[o.ViewID] = Observation{X: o.X, FeatureID: o.FeatureID}
		}
		r.Landmarks[l.ID] = lm
	}

	tracks := TracksPerView(sf.TracksPerView)
	if len(tracks) == 0 {
		tracks = TracksFromLandmarks(r)
	} else {
		for vid := range tracks {
			ts := tracks[vid]
			sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
		}
	}
	return r, tracks, nil
}

// SaveScene writes the reconstruction (and optional tracks) as JSON. Entries
// are written in ascending id order so files diff cleanly.
func SaveScene(path string, r *Reconstruction, tracks TracksPerView) error {
	sf := sceneFile{TracksPerView: tracks}
	for _, id := range r.ViewIDs() {
		v := r.Views[id]
		sf.Views = append(sf.Views, sceneView{ID: id, PoseID: v.PoseID, IntrinsicID: v.IntrinsicID, ImagePath: v.ImagePath})
	}
	for _, id := range r.PoseIDs() {
		p := r.Poses[id]
		sf.Poses = append(sf.Poses, scenePose{ID: id, Rotation: p.Rotation, Translation: p.Translation})
	}
	for _, id := range r.IntrinsicIDs() {
		in := r.Intrinsics[id]
		sf.Intrinsics = append(sf.Intrinsics, sceneIntrinsic{ID: id, Model: in.Model, Width: in.Width, Height: in.Height, Params: in.Params})
	}
	for _, id := range r.LandmarkIDs() {
		l := r.Landmarks[id]
		sl := sceneLandmark{ID: id, X: l.X}
		for _, vid := range l.ObservingViews() {
			o := l.Observations[vid]
			sl.Observations = append(sl.Observations, sceneObservation{ViewID: vid, X: o.X, FeatureID: o.FeatureID})
		}
		sf.Landmarks = append(sf.Landmarks, sl)
	}

	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode scene: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write scene: %w", err)
	}
	return nil
}
