package sfm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProject_IdentityPose(t *testing.T) {
	pose := []float64{0, 0, 0, 0, 0, 0}
	intr := []float64{1000, 320, 240}

	uv, ok := Project(ModelPinhole, intr, pose, [3]float64{0.1, -0.2, 2})
	require.True(t, ok)
	assert.InDelta(t, 320+1000*0.05, uv[0], 1e-9)
	assert.InDelta(t, 240-1000*0.1, uv[1], 1e-9)
}

func TestProject_BehindCamera(t *testing.T) {
	pose := []float64{0, 0, 0, 0, 0, 0}
	_, ok := Project(ModelPinhole, []float64{1000, 0, 0}, pose, [3]float64{0, 0, -1})
	assert.False(t, ok)
}

func TestProject_UnknownModel(t *testing.T) {
	pose := []float64{0, 0, 0, 0, 0, 0}
	_, ok := Project(IntrinsicModel("fisheye"), []float64{1000, 0, 0}, pose, [3]float64{0, 0, 1})
	assert.False(t, ok)
}

func TestProject_RadialDistortion(t *testing.T) {
	pose := []float64{0, 0, 0, 0, 0, 0}
	X := [3]float64{1, 0, 2}
	plain, ok := Project(ModelPinholeRadialK1, []float64{100, 0, 0, 0}, pose, X)
	require.True(t, ok)
	distorted, ok := Project(ModelPinholeRadialK1, []float64{100, 0, 0, 0.1}, pose, X)
	require.True(t, ok)

	// x = 0.5, r² = 0.25 -> factor 1.025
	assert.InDelta(t, 50.0, plain[0], 1e-9)
	assert.InDelta(t, 51.25, distorted[0], 1e-9)
}

func TestTransformPoint_QuarterTurn(t *testing.T) {
	// 90° about Z maps +X to +Y
	pose := []float64{0, 0, math.Pi / 2, 1, 2, 3}
	got := TransformPoint(pose, [3]float64{1, 0, 0})
	assert.InDelta(t, 1.0, got[0], 1e-9)
	assert.InDelta(t, 3.0, got[1], 1e-9)
	assert.InDelta(t, 3.0, got[2], 1e-9)
}

func TestCameraCenter_RoundTrip(t *testing.T) {
	pose := &Pose{Rotation: [3]float64{0.1, -0.3, 0.2}, Translation: [3]float64{1, -2, 5}}
	c := pose.Center()

	// the centre maps to the camera origin
	origin := TransformPoint(pose.Params(), c)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 0.0, origin[i], 1e-9)
	}
}

func TestReprojectionError(t *testing.T) {
	pose := []float64{0, 0, 0, 0, 0, 0}
	res, ok := ReprojectionError(ModelPinhole, []float64{100, 10, 20}, pose, [3]float64{0, 0, 1}, [2]float64{11, 18})
	require.True(t, ok)
	assert.InDelta(t, 1.0, res[0], 1e-12)
	assert.InDelta(t, -2.0, res[1], 1e-12)
}

func TestIntrinsicValidate(t *testing.T) {
	assert.NoError(t, (&Intrinsic{Model: ModelPinholeRadialK3, Params: make([]float64, 6)}).Validate())
	assert.Error(t, (&Intrinsic{Model: ModelPinhole, Params: make([]float64, 4)}).Validate())
	assert.Error(t, (&Intrinsic{Model: "bogus", Params: nil}).Validate())
}
