package core

import (
	"fmt"
	"testing"

	"github.com/signalsfoundry/road-router/kb"
	"github.com/signalsfoundry/road-router/model"
)

type link struct {
	dir model.Direction
	to  string
}

func edge(id string, length float64, occupancy int, out ...link) *model.Edge {
	e := &model.Edge{ID: id, Length: length, Occupancy: occupancy, Outgoing: map[model.Direction]string{}}
	for _, l := range out {
		e.Outgoing[l.dir] = l.to
	}
	return e
}

// topology builds a snapshot from hand-written edges, which are expected to
// be valid.
func topology(edges ...*model.Edge) *kb.Snapshot {
	snap, err := kb.NewSnapshot(edges...)
	if err != nil {
		panic(fmt.Sprintf("invalid test topology: %v", err))
	}
	return snap
}

// diamondTopology builds A->B, A->C, B->D, C->D with every edge 10 long.
func diamondTopology(occB, occC int) *kb.Snapshot {
	return topology(
		edge("A", 10, 0, link{model.Left, "B"}, link{model.Right, "C"}),
		edge("B", 10, occB, link{model.Straight, "D"}),
		edge("C", 10, occC, link{model.Straight, "D"}),
		edge("D", 10, 0),
	)
}

// chainTopology builds e0 -s-> e1 -s-> ... -s-> e{n-1}, each edge length long.
func chainTopology(t *testing.T, n int, length float64) *kb.Snapshot {
	t.Helper()
	store := kb.NewKnowledgeBase()
	for i := 0; i < n; i++ {
		if err := store.AddEdge(chainID(i), length); err != nil {
			t.Fatalf("AddEdge: %v", err)
		}
	}
	for i := 0; i+1 < n; i++ {
		if err := store.Connect(chainID(i), model.Straight, chainID(i+1)); err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}
	return store.Snapshot()
}

func chainID(i int) string {
	return "e" + string(rune('0'+i/10)) + string(rune('0'+i%10))
}

func straights(n int) model.DecisionList {
	out := make(model.DecisionList, n)
	for i := range out {
		out[i] = model.Straight
	}
	return out
}
