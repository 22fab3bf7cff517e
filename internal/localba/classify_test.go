package localba

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/localba/internal/sfm"
	"github.com/banshee-data/localba/internal/testutil"
)

func classifyLine(t *testing.T, n int, newViews []sfm.ViewID, rules Rules) (*sfm.Reconstruction, *States) {
	t.Helper()
	r, _, g := lineFixture(t, n)
	poseDist := PoseDistances(r, ComputeDistances(g, newViews))
	st, err := rules.Apply(r, poseDist)
	require.NoError(t, err)
	return r, st
}

func TestRules_PoseStates(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		limit int
		want  map[sfm.PoseID]State
	}{
		{
			name:  "limit 0",
			limit: 0,
			want:  map[sfm.PoseID]State{0: Ignored, 1: Constant, 2: Refined, 3: Constant, 4: Ignored},
		},
		{
			name:  "limit 1",
			limit: 1,
			want:  map[sfm.PoseID]State{0: Constant, 1: Refined, 2: Refined, 3: Refined, 4: Constant},
		},
		{
			name:  "limit 2",
			limit: 2,
			want:  map[sfm.PoseID]State{0: Refined, 1: Refined, 2: Refined, 3: Refined, 4: Refined},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, st := classifyLine(t, 5, []sfm.ViewID{2}, Rules{DistanceLimit: tt.limit})
			if diff := cmp.Diff(tt.want, st.Poses); diff != "" {
				t.Errorf("pose states mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRules_Partition(t *testing.T) {
	t.Parallel()
	for _, strategy := range []Strategy{StrategyRefineIntrinsics, StrategyFreezeIntrinsics, StrategyConstantBoundaryLandmarks} {
		for limit := 0; limit <= 4; limit++ {
			r, st := classifyLine(t, 6, []sfm.ViewID{1}, Rules{Strategy: strategy, DistanceLimit: limit})

			assert.Len(t, st.Poses, len(r.Poses))
			assert.Len(t, st.Intrinsics, len(r.Intrinsics))
			assert.Len(t, st.Landmarks, len(r.Landmarks))
			assert.Equal(t, len(r.Poses), st.PoseCounts().Total())
			assert.Equal(t, len(r.Intrinsics), st.IntrinsicCounts().Total())
			assert.Equal(t, len(r.Landmarks), st.LandmarkCounts().Total())
			for id := range r.Landmarks {
				_, ok := st.Landmarks[id]
				assert.True(t, ok, "landmark %d unclassified", id)
			}
		}
	}
}

func TestRules_Monotone(t *testing.T) {
	t.Parallel()
	for _, strategy := range []Strategy{StrategyRefineIntrinsics, StrategyFreezeIntrinsics, StrategyConstantBoundaryLandmarks} {
		_, prev := classifyLine(t, 8, []sfm.ViewID{3}, Rules{Strategy: strategy, DistanceLimit: 0})
		for limit := 1; limit <= 6; limit++ {
			_, cur := classifyLine(t, 8, []sfm.ViewID{3}, Rules{Strategy: strategy, DistanceLimit: limit})
			for id, s := range prev.Poses {
				assert.LessOrEqual(t, cur.Poses[id], s, "%s limit %d pose %d", strategy, limit, id)
			}
			for id, s := range prev.Intrinsics {
				assert.LessOrEqual(t, cur.Intrinsics[id], s, "%s limit %d intrinsic %d", strategy, limit, id)
			}
			for id, s := range prev.Landmarks {
				assert.LessOrEqual(t, cur.Landmarks[id], s, "%s limit %d landmark %d", strategy, limit, id)
			}
			prev = cur
		}
	}
}

func TestRules_Idempotent(t *testing.T) {
	t.Parallel()
	r, _, g := lineFixture(t, 6)
	rules := Rules{Strategy: StrategyConstantBoundaryLandmarks, DistanceLimit: 1}

	first, err := rules.Apply(r, PoseDistances(r, ComputeDistances(g, []sfm.ViewID{4})))
	require.NoError(t, err)
	second, err := rules.Apply(r, PoseDistances(r, ComputeDistances(g, []sfm.ViewID{4})))
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("states differ between runs (-first +second):\n%s", diff)
	}
}

// With new view 2 and limit 0, views 1 and 3 are constant and views 0 and 4
// ignored: landmarks of the 0-1 and 3-4 pairs have no refined observer.
func TestRules_LandmarkStates(t *testing.T) {
	t.Parallel()
	tests := []struct {
		strategy     Strategy
		wantBoundary State
	}{
		{StrategyRefineIntrinsics, Ignored},
		{StrategyFreezeIntrinsics, Ignored},
		{StrategyConstantBoundaryLandmarks, Constant},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.strategy.String(), func(t *testing.T) {
			t.Parallel()
			r, st := classifyLine(t, 5, []sfm.ViewID{2}, Rules{Strategy: tt.strategy, DistanceLimit: 0})
			for id, lm := range r.Landmarks {
				views := lm.ObservingViews()
				require.Len(t, views, 2)
				switch views[0] {
				case 0, 3:
					assert.Equal(t, tt.wantBoundary, st.Landmark(id), "landmark %d seen by %v", id, views)
				case 1, 2:
					assert.Equal(t, Refined, st.Landmark(id), "landmark %d seen by %v", id, views)
				}
			}
		})
	}
}

func TestRules_IntrinsicStrategies(t *testing.T) {
	t.Parallel()
	r, tracks := testutil.StarScene(3, fixtureShared)
	g := graphFor(t, r, tracks)

	// New view 1, limit 0: pose 1 refined, hub pose 0 constant, poses 2 and
	// 3 ignored, isolated view 4 ignored.
	poseDist := PoseDistances(r, ComputeDistances(g, []sfm.ViewID{1}))

	st, err := Rules{Strategy: StrategyRefineIntrinsics}.Apply(r, poseDist)
	require.NoError(t, err)
	assert.Equal(t, map[sfm.IntrinsicID]State{0: Constant, 1: Refined, 2: Ignored, 3: Ignored, 4: Ignored}, st.Intrinsics)

	st, err = Rules{Strategy: StrategyFreezeIntrinsics}.Apply(r, poseDist)
	require.NoError(t, err)
	assert.Equal(t, map[sfm.IntrinsicID]State{0: Constant, 1: Constant, 2: Ignored, 3: Ignored, 4: Ignored}, st.Intrinsics)
}

func TestRules_SharedIntrinsicEscalates(t *testing.T) {
	t.Parallel()
	// All five views share intrinsic 0: refined as soon as one pose is.
	_, st := classifyLine(t, 5, []sfm.ViewID{0}, Rules{DistanceLimit: 0})
	assert.Equal(t, Refined, st.Intrinsic(0))
	assert.Equal(t, Ignored, st.Pose(4))

	_, st = classifyLine(t, 5, []sfm.ViewID{0}, Rules{Strategy: StrategyFreezeIntrinsics, DistanceLimit: 0})
	assert.Equal(t, Constant, st.Intrinsic(0))
}

func TestRules_UnknownStrategy(t *testing.T) {
	t.Parallel()
	r, _ := testutil.LineScene(2, fixtureShared)
	_, err := Rules{Strategy: 7}.Apply(r, PoseDistanceMap{})
	require.ErrorIs(t, err, ErrUnknownStrategy)

	_, err = Rules{DistanceLimit: -1}.Apply(r, PoseDistanceMap{})
	require.Error(t, err)
}

func TestRules_UnreachableDefaultsToIgnored(t *testing.T) {
	t.Parallel()
	r, _ := testutil.LineScene(3, fixtureShared)
	st, err := Rules{DistanceLimit: 5}.Apply(r, PoseDistanceMap{})
	require.NoError(t, err)
	assert.Equal(t, StateCounts{Ignored: 3}, st.PoseCounts())
	assert.Equal(t, StateCounts{Ignored: 1}, st.IntrinsicCounts())
	assert.Equal(t, len(r.Landmarks), st.LandmarkCounts().Ignored)
}

func TestAllRefined(t *testing.T) {
	t.Parallel()
	r, _ := testutil.StarScene(2, fixtureShared)
	st := AllRefined(r)
	assert.Equal(t, StateCounts{Refined: len(r.Poses)}, st.PoseCounts())
	assert.Equal(t, StateCounts{Refined: len(r.Intrinsics)}, st.IntrinsicCounts())
	assert.Equal(t, StateCounts{Refined: len(r.Landmarks)}, st.LandmarkCounts())
}

func TestStateAndStrategyStrings(t *testing.T) {
	assert.Equal(t, "refined", Refined.String())
	assert.Equal(t, "constant", Constant.String())
	assert.Equal(t, "ignored", Ignored.String())
	assert.Equal(t, "state(9)", State(9).String())
	assert.Equal(t, "freeze_intrinsics", StrategyFreezeIntrinsics.String())
	assert.False(t, Strategy(3).Valid())
	assert.Equal(t, Refined, escalate(Ignored, Refined))
	assert.Equal(t, Constant, escalate(Constant, Ignored))
}
