package sfm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// IntrinsicModel names a camera calibration model.
type IntrinsicModel string

const (
	ModelPinhole         IntrinsicModel = "pinhole"           // f, ppx, ppy
	ModelPinholeRadialK1 IntrinsicModel = "pinhole_radial_k1" // f, ppx, ppy, k1
	ModelPinholeRadialK3 IntrinsicModel = "pinhole_radial_k3" // f, ppx, ppy, k1, k2, k3
)

// ParamCount returns the packed block size for the model, or 0 if unknown.
func (m IntrinsicModel) ParamCount() int {
	switch m {
	case ModelPinhole:
		return 3
	case ModelPinholeRadialK1:
		return 4
	case ModelPinholeRadialK3:
		return 6
	default:
		return 0
	}
}

// Intrinsic is a calibration shared by one or more views.
type Intrinsic struct {
	Model  IntrinsicModel
	Width  int
	Height int
	Params []float64
}

// Validate checks that Params matches the model.
func (in *Intrinsic) Validate() error {
	n := in.Model.ParamCount()
	if n == 0 {
		return fmt.Errorf("unknown intrinsic model %q", in.Model)
	}
	if len(in.Params) != n {
		return fmt.Errorf("intrinsic model %q needs %d params, got %d", in.Model, n, len(in.Params))
	}
	return nil
}

// angleAxisRotate applies the angle-axis rotation w to p.
func angleAxisRotate(w [3]float64, p r3.Vec) r3.Vec {
	axis := r3.Vec{X: w[0], Y: w[1], Z: w[2]}
	theta := r3.Norm(axis)
	if theta < 1e-12 {
		// first order: p + w×p
		return r3.Add(p, r3.Cross(axis, p))
	}
	return r3.NewRotation(theta, r3.Scale(1/theta, axis)).Rotate(p)
}

// TransformPoint maps a world point into the camera frame of a packed pose.
func TransformPoint(pose []float64, X [3]float64) [3]float64 {
	w := [3]float64{pose[0], pose[1], pose[2]}
	c := angleAxisRotate(w, r3.Vec{X: X[0], Y: X[1], Z: X[2]})
	return [3]float64{c.X + pose[3], c.Y + pose[4], c.Z + pose[5]}
}

// CameraCenter returns -Rᵀ·t for a packed pose.
func CameraCenter(pose []float64) [3]float64 {
	wInv := [3]float64{-pose[0], -pose[1], -pose[2]}
	c := angleAxisRotate(wInv, r3.Vec{X: pose[3], Y: pose[4], Z: pose[5]})
	return [3]float64{-c.X, -c.Y, -c.Z}
}

// Project maps a world point to pixel coordinates with a packed pose and a
// packed intrinsic of the given model. ok is false for points at or behind
// the camera plane or for an unknown model.
func Project(model IntrinsicModel, intrinsic, pose []float64, X [3]float64) (uv [2]float64, ok bool) {
	pc := TransformPoint(pose, X)
	if pc[2] <= 1e-12 {
		return uv, false
	}
	x, y := pc[0]/pc[2], pc[1]/pc[2]

	var f, ppx, ppy float64
	distortion := 1.0
	r2 := x*x + y*y
	switch model {
	case ModelPinhole:
		f, ppx, ppy = intrinsic[0], intrinsic[1], intrinsic[2]
	case ModelPinholeRadialK1:
		f, ppx, ppy = intrinsic[0], intrinsic[1], intrinsic[2]
		distortion += intrinsic[3] * r2
	case ModelPinholeRadialK3:
		f, ppx, ppy = intrinsic[0], intrinsic[1], intrinsic[2]
		distortion += intrinsic[3]*r2 + intrinsic[4]*r2*r2 + intrinsic[5]*r2*r2*r2
	default:
		return uv, false
	}

	uv[0] = f*x*distortion + ppx
	uv[1] = f*y*distortion + ppy
	if math.IsNaN(uv[0]) || math.IsNaN(uv[1]) {
		return uv, false
	}
	return uv, true
}

// ReprojectionError returns observed minus projected pixel coordinates.
func ReprojectionError(model IntrinsicModel, intrinsic, pose []float64, X [3]float64, observed [2]float64) ([2]float64, bool) {
	uv, ok := Project(model, intrinsic, pose, X)
	if !ok {
		return [2]float64{}, false
	}
	return [2]float64{observed[0] - uv[0], observed[1] - uv[1]}, true
}
