// Package localba scopes bundle adjustment to the neighborhood of the most
// recently registered views.
//
// Each call recomputes, from scratch: the co-visibility graph distance of
// every view to the new views (multi-source BFS), the per-pose distance, and
// a Refined / Constant / Ignored state for every pose, intrinsic group and
// landmark. Refined parameters are optimized, constant ones are frozen but
// still define residuals, ignored ones are left out of the problem.
//
// Strategies (one deterministic rule set each):
//
//	StrategyRefineIntrinsics (0)
//	  pose:      d <= limit refined, d == limit+1 constant, else ignored
//	  intrinsic: most active state of the poses using it
//	  landmark:  refined if any observing pose is refined, else ignored
//
//	StrategyFreezeIntrinsics (1)
//	  pose, landmark as strategy 0
//	  intrinsic: constant if any pose using it is refined or constant,
//	             else ignored; never refined
//
//	StrategyConstantBoundaryLandmarks (2)
//	  pose, intrinsic as strategy 0
//	  landmark:  refined if any observing pose is refined, constant if
//	             none is refined but one is constant, else ignored
//
// With no new views, or with local BA disabled, everything is refined.
//
// Graph, distance and classification code is single-threaded and must not be
// shared across goroutines. Only the solver may run concurrently inside its
// own Solve call.
package localba
