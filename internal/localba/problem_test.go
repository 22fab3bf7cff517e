package localba

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/localba/internal/sfm"
	"github.com/banshee-data/localba/internal/testutil"
)

func TestBuildProblem_FreezeIntrinsics(t *testing.T) {
	t.Parallel()
	// Poses: 2 refined, 1 and 3 constant. Intrinsic 0 constant. The eight
	// landmarks of pairs 1-2 and 2-3 are refined, two observations each.
	r, st := classifyLine(t, 5, []sfm.ViewID{2}, Rules{Strategy: StrategyFreezeIntrinsics, DistanceLimit: 0})

	pk, err := BuildProblem(r, st, false)
	require.NoError(t, err)

	assert.Equal(t, 3, pk.NumPoseBlocks())
	assert.Equal(t, 1, pk.NumIntrinsicBlocks())
	assert.Equal(t, 2*fixtureShared, pk.NumLandmarkBlocks())
	assert.Equal(t, 4*fixtureShared, pk.Problem.NumResidualBlocks())
	assert.Equal(t, 3+1+2*fixtureShared, pk.Problem.NumParameterBlocks())
	assert.Equal(t, 3, pk.Problem.NumConstantBlocks())
	assert.False(t, pk.Problem.HasOrdering())
}

func TestBuildProblem_ConstantBoundaryLandmarks(t *testing.T) {
	t.Parallel()
	// Same poses; intrinsic 0 refined. Boundary landmarks 0-1 and 3-4 are
	// constant and keep the residual of their constant observer.
	r, st := classifyLine(t, 5, []sfm.ViewID{2}, Rules{Strategy: StrategyConstantBoundaryLandmarks, DistanceLimit: 0})

	pk, err := BuildProblem(r, st, true)
	require.NoError(t, err)

	assert.Equal(t, 3, pk.NumPoseBlocks())
	assert.Equal(t, 4*fixtureShared, pk.NumLandmarkBlocks())
	assert.Equal(t, 6*fixtureShared, pk.Problem.NumResidualBlocks())
	assert.Equal(t, 2+2*fixtureShared, pk.Problem.NumConstantBlocks())
	assert.True(t, pk.Problem.HasOrdering())
}

func TestBuildProblem_IgnoredContributesNothing(t *testing.T) {
	t.Parallel()
	r, _ := testutil.LineScene(4, fixtureShared)
	st, err := Rules{}.Apply(r, PoseDistanceMap{})
	require.NoError(t, err)

	pk, err := BuildProblem(r, st, true)
	require.NoError(t, err)
	assert.Zero(t, pk.Problem.NumParameterBlocks())
	assert.Zero(t, pk.Problem.NumResidualBlocks())
}

func TestBuildProblem_InvalidIntrinsic(t *testing.T) {
	t.Parallel()
	r, _ := testutil.LineScene(2, fixtureShared)
	r.Intrinsics[0].Params = r.Intrinsics[0].Params[:2]

	_, err := BuildProblem(r, AllRefined(r), false)
	require.Error(t, err)
}

func TestReprojectionCost_ExactFixture(t *testing.T) {
	t.Parallel()
	r, _ := testutil.LineScene(2, fixtureShared)
	pk, err := BuildProblem(r, AllRefined(r), false)
	require.NoError(t, err)

	for _, rb := range pk.Problem.ResidualBlocks() {
		params := make([][]float64, len(rb.Blocks))
		for i, b := range rb.Blocks {
			params[i] = b.Values()
		}
		res := make([]float64, rb.Cost.NumResiduals())
		require.True(t, rb.Cost.Evaluate(params, res))
		assert.InDelta(t, 0, res[0], 1e-9)
		assert.InDelta(t, 0, res[1], 1e-9)
	}
}

func TestPacked_WriteBackRefinedOnly(t *testing.T) {
	t.Parallel()
	r, st := classifyLine(t, 5, []sfm.ViewID{2}, Rules{Strategy: StrategyConstantBoundaryLandmarks, DistanceLimit: 0})
	before := r.Clone()

	pk, err := BuildProblem(r, st, false)
	require.NoError(t, err)
	for _, buf := range pk.poses {
		buf[3] += 1
	}
	for _, buf := range pk.intrinsics {
		buf[0] += 10
	}
	for _, buf := range pk.landmarks {
		buf[2] += 1
	}
	pk.WriteBack(r)

	assert.InDelta(t, before.Poses[2].Translation[0]+1, r.Poses[2].Translation[0], 1e-12)
	assert.Equal(t, before.Poses[1].Translation, r.Poses[1].Translation)
	assert.Equal(t, before.Poses[3].Translation, r.Poses[3].Translation)
	assert.Equal(t, before.Poses[0], r.Poses[0])
	assert.InDelta(t, before.Intrinsics[0].Params[0]+10, r.Intrinsics[0].Params[0], 1e-12)

	for id, lm := range r.Landmarks {
		switch st.Landmark(id) {
		case Refined:
			assert.InDelta(t, before.Landmarks[id].X[2]+1, lm.X[2], 1e-12)
		default:
			assert.Equal(t, before.Landmarks[id].X, lm.X)
		}
	}
}
