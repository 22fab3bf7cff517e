// Package testutil provides reconstruction fixtures and small assertion
// helpers shared by the adjustment tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/localba/internal/sfm"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// Fixture camera: pinhole, f=500, principal point at the image centre.
const (
	FocalLength = 500.0
	ImageWidth  = 640
	ImageHeight = 480
	ViewSpacing = 0.5
	PointsDepth = 5.0
)

// SceneBuilder assembles a synthetic reconstruction whose observations are
// exact projections of its landmarks.
type SceneBuilder struct {
	r    *sfm.Reconstruction
	next sfm.LandmarkID
}

// NewScene returns an empty builder.
func NewScene() *SceneBuilder {
	return &SceneBuilder{r: sfm.NewReconstruction()}
}

// AddView registers view id with the given pose and intrinsic, creating
// them when absent. New poses sit on the x axis at id·ViewSpacing, looking
// down +z.
func (b *SceneBuilder) AddView(id sfm.ViewID, pose sfm.PoseID, intrinsic sfm.IntrinsicID) *SceneBuilder {
	b.r.Views[id] = &sfm.View{ID: id, PoseID: pose, IntrinsicID: intrinsic}
	if _, ok := b.r.Poses[pose]; !ok {
		b.r.Poses[pose] = &sfm.Pose{Translation: [3]float64{-float64(id) * ViewSpacing, 0, 0}}
	}
	if _, ok := b.r.Intrinsics[intrinsic]; !ok {
		b.r.Intrinsics[intrinsic] = &sfm.Intrinsic{
			Model:  sfm.ModelPinhole,
			Width:  ImageWidth,
			Height: ImageHeight,
			Params: []float64{FocalLength, ImageWidth / 2, ImageHeight / 2},
		}
	}
	return b
}

// SharePoints adds n landmarks observed by every listed view and returns
// their ids. Views must already be added.
func (b *SceneBuilder) SharePoints(n int, views ...sfm.ViewID) []sfm.LandmarkID {
	cx := 0.0
	for _, v := range views {
		cx += b.r.Poses[b.r.Views[v].PoseID].Center()[0]
	}
	cx /= float64(len(views))

	ids := make([]sfm.LandmarkID, 0, n)
	for i := 0; i < n; i++ {
		id := b.next
		b.next++
		X := [3]float64{
			cx + 0.05*float64(i%5) - 0.1,
			0.04*float64(i%7) - 0.12,
			PointsDepth + 0.1*float64(i%3),
		}
		lm := &sfm.Landmark{X: X, Observations: make(map[sfm.ViewID]sfm.Observation, len(views))}
		for _, v := range views {
			view := b.r.Views[v]
			in := b.r.Intrinsics[view.IntrinsicID]
			uv, ok := sfm.Project(in.Model, in.Params, b.r.Poses[view.PoseID].Params(), X)
			if !ok {
				panic("testutil: fixture landmark behind camera")
			}
			lm.Observations[v] = sfm.Observation{X: uv, FeatureID: uint32(id)}
		}
		b.r.Landmarks[id] = lm
		ids = append(ids, id)
	}
	return ids
}

// Build returns the reconstruction and its derived track lists.
func (b *SceneBuilder) Build() (*sfm.Reconstruction, sfm.TracksPerView) {
	return b.r, sfm.TracksFromLandmarks(b.r)
}

// LineScene builds n views in a chain 0-1-...-(n-1). Consecutive views share
// `shared` landmarks; view i uses pose i and intrinsic 0.
func LineScene(n, shared int) (*sfm.Reconstruction, sfm.TracksPerView) {
	b := NewScene()
	for i := 0; i < n; i++ {
		b.AddView(sfm.ViewID(i), sfm.PoseID(i), 0)
	}
	for i := 0; i+1 < n; i++ {
		b.SharePoints(shared, sfm.ViewID(i), sfm.ViewID(i+1))
	}
	return b.Build()
}

// StarScene builds a hub view 0 linked to views 1..arms, each with its own
// pose and intrinsic. View arms+1 is isolated: it shares no landmark.
func StarScene(arms, shared int) (*sfm.Reconstruction, sfm.TracksPerView) {
	b := NewScene()
	b.AddView(0, 0, 0)
	for i := 1; i <= arms; i++ {
		b.AddView(sfm.ViewID(i), sfm.PoseID(i), sfm.IntrinsicID(i))
		b.SharePoints(shared, 0, sfm.ViewID(i))
	}
	iso := sfm.ViewID(arms + 1)
	b.AddView(iso, sfm.PoseID(iso), sfm.IntrinsicID(iso))
	b.SharePoints(1, iso)
	return b.Build()
}

// Perturb shifts every pose translation and landmark by delta so a solve has
// work to do.
func Perturb(r *sfm.Reconstruction, delta float64) {
	for _, p := range r.Poses {
		p.Translation[0] += delta
		p.Translation[1] -= delta
	}
	for _, l := range r.Landmarks {
		l.X[2] += delta
	}
}
