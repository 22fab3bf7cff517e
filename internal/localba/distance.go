package localba

import (
	"sort"

	"github.com/banshee-data/localba/internal/covis"
	"github.com/banshee-data/localba/internal/lbastats"
	"github.com/banshee-data/localba/internal/sfm"
)

// Unreachable is the distance of a view with no path to any new view.
const Unreachable = -1

// DistanceMap holds the graph distance of every view in the graph.
type DistanceMap map[sfm.ViewID]int

// PoseDistanceMap holds the distance of every pose of the reconstruction.
type PoseDistanceMap map[sfm.PoseID]int

// Histogram buckets the view distances.
func (d DistanceMap) Histogram() lbastats.Histogram {
	var h lbastats.Histogram
	for _, dist := range d {
		h.Add(dist)
	}
	return h
}

// ComputeDistances runs a breadth-first search seeded at every new view at
// once: seeds get 0, an unvisited neighbor of a distance-k view gets k+1,
// and views with no path to a seed get Unreachable. Seeds missing from the
// graph are inserted as isolated nodes. With no seeds every view is
// Unreachable.
func ComputeDistances(g *covis.Graph, newViews []sfm.ViewID) DistanceMap {
	dist := make(DistanceMap, g.NodeCount())
	for _, v := range g.Views() {
		dist[v] = Unreachable
	}

	seeds := append([]sfm.ViewID(nil), newViews...)
	sort.Slice(seeds, func(i, j int) bool { return seeds[i] < seeds[j] })

	queue := make([]int64, 0, len(seeds))
	for _, v := range seeds {
		node, inserted := g.EnsureView(v)
		if inserted {
			logf("new view %d missing from the graph, inserted", v)
		}
		if d, ok := dist[v]; ok && d == 0 {
			continue
		}
		dist[v] = 0
		queue = append(queue, node)
	}

	u := g.Undirected()
	for head := 0; head < len(queue); head++ {
		node := queue[head]
		view, _ := g.ViewFor(node)
		next := dist[view] + 1
		it := u.From(node)
		for it.Next() {
			nb := it.Node().ID()
			nv, ok := g.ViewFor(nb)
			if !ok {
				continue
			}
			if dist[nv] == Unreachable {
				dist[nv] = next
				queue = append(queue, nb)
			}
		}
	}
	return dist
}

// PoseDistances derives the distance of each pose as the minimum over the
// registered views referencing it. Views missing from viewDist count as
// Unreachable.
func PoseDistances(r *sfm.Reconstruction, viewDist DistanceMap) PoseDistanceMap {
	out := make(PoseDistanceMap, len(r.Poses))
	for id := range r.Poses {
		out[id] = Unreachable
	}
	for _, vid := range r.RegisteredViewIDs() {
		d, ok := viewDist[vid]
		if !ok || d == Unreachable {
			continue
		}
		pid := r.Views[vid].PoseID
		if cur := out[pid]; cur == Unreachable || d < cur {
			out[pid] = d
		}
	}
	return out
}
