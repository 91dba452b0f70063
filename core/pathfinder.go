package core

import (
	"container/heap"
	"fmt"

	"github.com/signalsfoundry/road-router/kb"
	"github.com/signalsfoundry/road-router/model"
)

// FindRoute runs a label-setting shortest-path search from start towards
// destination and returns the route as a list of directions.
//
// Every reached edge records the full direction sequence of its best known
// path. Sequences are extended with copy-on-extend semantics so relaxing one
// edge never rewrites the path recorded for another. Ties on distance are
// broken by the lower edge ID, which keeps results reproducible.
//
// The returned distance excludes the start edge. A start equal to the
// destination yields an empty, successful route.
func FindRoute(topo *kb.Snapshot, start, destination string) (model.RouteResult, error) {
	if topo == nil || !topo.HasEdge(start) {
		return model.RouteResult{}, fmt.Errorf("%w: unknown start edge %q", ErrNoRoute, start)
	}
	if !topo.HasEdge(destination) {
		return model.RouteResult{}, fmt.Errorf("%w: unknown destination edge %q", ErrNoRoute, destination)
	}
	if start == destination {
		return model.RouteResult{Decisions: model.DecisionList{}}, nil
	}

	dist := map[string]float64{start: 0}
	paths := map[string]model.DecisionList{start: {}}
	settled := make(map[string]struct{})

	pq := &frontier{}
	heap.Push(pq, &frontierItem{edge: start, dist: 0})

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*frontierItem)
		if _, done := settled[cur.edge]; done {
			continue
		}
		if cur.dist > dist[cur.edge] {
			continue
		}
		settled[cur.edge] = struct{}{}

		if cur.edge == destination {
			return model.RouteResult{
				Decisions: paths[cur.edge].Clone(),
				Distance:  cur.dist,
			}, nil
		}

		for _, dir := range topo.Directions(cur.edge) {
			next, _ := topo.Next(cur.edge, dir)
			if _, done := settled[next]; done {
				continue
			}
			candidate := cur.dist + topo.Length(next)
			if best, seen := dist[next]; seen && candidate >= best {
				continue
			}
			dist[next] = candidate
			paths[next] = paths[cur.edge].With(dir)
			heap.Push(pq, &frontierItem{edge: next, dist: candidate})
		}
	}

	return model.RouteResult{}, fmt.Errorf("%w: %q unreachable from %q", ErrNoRoute, destination, start)
}

// ---------- internal PQ ----------

type frontierItem struct {
	edge string
	dist float64
}

type frontier []*frontierItem

func (pq frontier) Len() int { return len(pq) }
func (pq frontier) Less(i, j int) bool {
	if pq[i].dist != pq[j].dist {
		return pq[i].dist < pq[j].dist
	}
	return pq[i].edge < pq[j].edge
}
func (pq frontier) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *frontier) Push(x interface{}) { *pq = append(*pq, x.(*frontierItem)) }
func (pq *frontier) Pop() interface{} {
	old := *pq
	n := len(old)
	it := old[n-1]
	*pq = old[:n-1]
	return it
}
