// Package sfm holds the reconstruction data model consumed by the local
// bundle adjustment: views, shared poses and intrinsic groups, landmarks with
// their observations, and the per-view track lists used to build the
// co-visibility graph.
//
// Views are immutable once registered. Poses, intrinsics and landmark
// positions are mutated in place only by a successful adjustment.
// No solver or graph code is allowed in this package.
package sfm
