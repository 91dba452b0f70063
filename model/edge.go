package model

// Edge is a directed road segment.
//
// Outgoing maps each available Direction to the identifier of the edge it
// leads to. An empty map marks a dead end. Occupancy is the host-reported
// number of vehicles currently on the edge and is read-only to the router.
type Edge struct {
	ID        string
	Length    float64
	Outgoing  map[Direction]string
	Occupancy int
}

// IsDeadEnd reports whether the edge has no outgoing connections.
func (e *Edge) IsDeadEnd() bool {
	return e == nil || len(e.Outgoing) == 0
}

// Clone returns a deep copy of e.
func (e *Edge) Clone() *Edge {
	if e == nil {
		return nil
	}
	out := &Edge{
		ID:        e.ID,
		Length:    e.Length,
		Occupancy: e.Occupancy,
		Outgoing:  make(map[Direction]string, len(e.Outgoing)),
	}
	for d, to := range e.Outgoing {
		out.Outgoing[d] = to
	}
	return out
}
