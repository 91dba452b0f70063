package kb

import (
	"fmt"

	"github.com/signalsfoundry/road-router/model"
)

// Snapshot is a read-only view of the topology for one tick. It is safe for
// concurrent use because nothing mutates it after construction.
type Snapshot struct {
	edges map[string]*model.Edge
	ids   []string
}

// NewSnapshot builds a snapshot directly from edge values. Edges are copied
// and held to the same rules as AddEdge, Connect and SetOccupancy.
func NewSnapshot(edges ...*model.Edge) (*Snapshot, error) {
	kb := NewKnowledgeBase()
	for _, e := range edges {
		if e == nil {
			continue
		}
		switch {
		case e.ID == "":
			return nil, fmt.Errorf("%w: empty edge ID", ErrInvalidEdge)
		case e.Length < 0:
			return nil, fmt.Errorf("%w: edge %q has negative length %v", ErrInvalidEdge, e.ID, e.Length)
		case e.Occupancy < 0:
			return nil, fmt.Errorf("%w: negative occupancy %d for %q", ErrInvalidEdge, e.Occupancy, e.ID)
		}
		if _, dup := kb.edges[e.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrEdgeExists, e.ID)
		}
		kb.edges[e.ID] = e.Clone()
	}
	for id, e := range kb.edges {
		for dir, to := range e.Outgoing {
			if !dir.Valid() {
				return nil, fmt.Errorf("%w: unknown direction %q on edge %q", ErrInvalidEdge, string(dir), id)
			}
			if _, ok := kb.edges[to]; !ok {
				return nil, fmt.Errorf("%w: %q (reached from %q)", ErrEdgeNotFound, to, id)
			}
		}
	}
	return kb.Snapshot(), nil
}

// HasEdge reports whether id is part of the topology.
func (s *Snapshot) HasEdge(id string) bool {
	_, ok := s.edges[id]
	return ok
}

// EdgeIDs returns every edge identifier in ascending order. The returned
// slice must not be modified.
func (s *Snapshot) EdgeIDs() []string {
	return s.ids
}

// Length returns the edge length, or 0 for unknown edges.
func (s *Snapshot) Length(id string) float64 {
	if e, ok := s.edges[id]; ok {
		return e.Length
	}
	return 0
}

// Occupancy returns the number of vehicles reported on the edge.
func (s *Snapshot) Occupancy(id string) int {
	if e, ok := s.edges[id]; ok {
		return e.Occupancy
	}
	return 0
}

// Outgoing returns the direction map of an edge. The map must not be modified.
func (s *Snapshot) Outgoing(id string) map[model.Direction]string {
	if e, ok := s.edges[id]; ok {
		return e.Outgoing
	}
	return nil
}

// Next returns the edge reached by leaving id in direction dir.
func (s *Snapshot) Next(id string, dir model.Direction) (string, bool) {
	e, ok := s.edges[id]
	if !ok {
		return "", false
	}
	to, ok := e.Outgoing[dir]
	return to, ok
}

// IsDeadEnd reports whether an edge has no outgoing connections.
func (s *Snapshot) IsDeadEnd(id string) bool {
	return len(s.Outgoing(id)) == 0
}

// Directions returns the directions available from an edge in the fixed
// model.Directions order.
func (s *Snapshot) Directions(id string) []model.Direction {
	out := s.Outgoing(id)
	if len(out) == 0 {
		return nil
	}
	dirs := make([]model.Direction, 0, len(out))
	for _, d := range model.Directions {
		if _, ok := out[d]; ok {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// Len returns the number of edges.
func (s *Snapshot) Len() int {
	return len(s.ids)
}
