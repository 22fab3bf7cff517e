// Package covis maintains the co-visibility graph of registered views: one
// node per view, an edge between two views sharing at least MinSharedTracks
// tracks, weighted by that count.
//
// The graph is append-only within a session. Nodes are gonum graph nodes;
// the store keeps the view <-> node bijection in side maps so lookups in both
// directions are O(1).
package covis

import (
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/banshee-data/localba/internal/monitoring"
	"github.com/banshee-data/localba/internal/sfm"
)

// DefaultMinSharedTracks is the minimum number of common tracks for two
// views to be linked.
const DefaultMinSharedTracks = 50

var logf = monitoring.Component("covis")

// Graph is the co-visibility graph of one adjustment session.
// It is not safe for concurrent mutation.
type Graph struct {
	g               *simple.WeightedUndirectedGraph
	nodeByView      map[sfm.ViewID]int64
	viewByNode      map[int64]sfm.ViewID
	edgeCount       int
	minSharedTracks int
}

// New returns an empty graph. minSharedTracks < 1 selects
// DefaultMinSharedTracks.
func New(minSharedTracks int) *Graph {
	if minSharedTracks < 1 {
		minSharedTracks = DefaultMinSharedTracks
	}
	return &Graph{
		g:               simple.NewWeightedUndirectedGraph(0, 0),
		nodeByView:      make(map[sfm.ViewID]int64),
		viewByNode:      make(map[int64]sfm.ViewID),
		minSharedTracks: minSharedTracks,
	}
}

// MinSharedTracks returns the edge threshold.
func (cg *Graph) MinSharedTracks() int { return cg.minSharedTracks }

// EnsureView returns the node of view, inserting an isolated node if the
// view is not in the graph yet. inserted reports whether a node was created.
func (cg *Graph) EnsureView(view sfm.ViewID) (node int64, inserted bool) {
	if id, ok := cg.nodeByView[view]; ok {
		return id, false
	}
	n := cg.g.NewNode()
	cg.g.AddNode(n)
	cg.nodeByView[view] = n.ID()
	cg.viewByNode[n.ID()] = view
	return n.ID(), true
}

// AddOrUpdateView inserts view if absent and links it to every view already
// in the graph whose shared-track count reaches the threshold. Existing
// edges get their weight refreshed; edges are never removed. Views of shared
// that are not in the graph are ignored. Calling it again with the same
// counts is a no-op.
func (cg *Graph) AddOrUpdateView(view sfm.ViewID, shared map[sfm.ViewID]int) int64 {
	node, _ := cg.EnsureView(view)

	others := make([]sfm.ViewID, 0, len(shared))
	for other := range shared {
		others = append(others, other)
	}
	sort.Slice(others, func(i, j int) bool { return others[i] < others[j] })

	for _, other := range others {
		count := shared[other]
		if other == view || count < cg.minSharedTracks {
			continue
		}
		otherNode, ok := cg.nodeByView[other]
		if !ok {
			continue
		}
		if !cg.g.HasEdgeBetween(node, otherNode) {
			cg.edgeCount++
		}
		cg.g.SetWeightedEdge(cg.g.NewWeightedEdge(cg.g.Node(node), cg.g.Node(otherNode), float64(count)))
	}
	return node
}

// Update registers every registered view of the reconstruction and links
// each new view to the other registered views from the per-view track
// lists. Registered views seen for the first time are linked the same way,
// so the first update of a scene builds its whole graph. New views that are
// not registered are skipped.
func (cg *Graph) Update(r *sfm.Reconstruction, tracks sfm.TracksPerView, newViews []sfm.ViewID) {
	registered := r.RegisteredViewIDs()
	link := make(map[sfm.ViewID]bool)
	for _, v := range registered {
		if _, inserted := cg.EnsureView(v); inserted {
			link[v] = true
		}
	}
	for _, nv := range newViews {
		if !r.IsRegistered(nv) {
			logf("new view %d is not registered, skipped", nv)
			continue
		}
		link[nv] = true
	}

	for _, v := range registered {
		if !link[v] {
			continue
		}
		mine := tracks[v]
		shared := make(map[sfm.ViewID]int)
		for _, other := range registered {
			if other == v {
				continue
			}
			if n := sfm.CountSharedTracks(mine, tracks[other]); n > 0 {
				shared[other] = n
			}
		}
		cg.AddOrUpdateView(v, shared)
	}
}

// NodeFor returns the node handle of view.
func (cg *Graph) NodeFor(view sfm.ViewID) (int64, bool) {
	id, ok := cg.nodeByView[view]
	return id, ok
}

// ViewFor returns the view of a node handle.
func (cg *Graph) ViewFor(node int64) (sfm.ViewID, bool) {
	v, ok := cg.viewByNode[node]
	return v, ok
}

// NodeCount returns the number of views in the graph.
func (cg *Graph) NodeCount() int { return len(cg.nodeByView) }

// EdgeCount returns the number of co-visibility edges.
func (cg *Graph) EdgeCount() int { return cg.edgeCount }

// Undirected exposes the underlying graph for traversal.
func (cg *Graph) Undirected() graph.Undirected { return cg.g }

// Views returns the views in the graph in ascending order.
func (cg *Graph) Views() []sfm.ViewID {
	views := make([]sfm.ViewID, 0, len(cg.nodeByView))
	for v := range cg.nodeByView {
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i] < views[j] })
	return views
}

// Neighbors returns the views linked to view in ascending order.
func (cg *Graph) Neighbors(view sfm.ViewID) []sfm.ViewID {
	node, ok := cg.nodeByView[view]
	if !ok {
		return nil
	}
	var out []sfm.ViewID
	it := cg.g.From(node)
	for it.Next() {
		out = append(out, cg.viewByNode[it.Node().ID()])
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SharedTracks returns the weight of the edge between a and b.
func (cg *Graph) SharedTracks(a, b sfm.ViewID) (int, bool) {
	na, okA := cg.nodeByView[a]
	nb, okB := cg.nodeByView[b]
	if !okA || !okB {
		return 0, false
	}
	e := cg.g.WeightedEdge(na, nb)
	if e == nil {
		return 0, false
	}
	return int(e.Weight()), true
}
