package model

// DecisionList is an ordered sequence of directions planned for one vehicle
// for one tick. Not every element is necessarily consumed.
type DecisionList []Direction

// With returns a new list holding l followed by d. The receiver is never
// modified, so lists extended from a common prefix do not alias.
func (l DecisionList) With(d Direction) DecisionList {
	out := make(DecisionList, len(l), len(l)+1)
	copy(out, l)
	return append(out, d)
}

// Prepend returns a new list holding d followed by l.
func (l DecisionList) Prepend(d Direction) DecisionList {
	out := make(DecisionList, 0, len(l)+1)
	out = append(out, d)
	return append(out, l...)
}

// Clone returns an independent copy of l.
func (l DecisionList) Clone() DecisionList {
	if l == nil {
		return nil
	}
	out := make(DecisionList, len(l))
	copy(out, l)
	return out
}

// Strings renders the list using the single-letter direction codes.
func (l DecisionList) Strings() []string {
	out := make([]string, len(l))
	for i, d := range l {
		out[i] = string(d)
	}
	return out
}

// RouteResult is a shortest route from one edge to another, expressed as
// directions, plus the distance travelled along it.
//
// Distance is the summed length of every edge entered after the start edge;
// the start edge itself is not counted.
type RouteResult struct {
	Decisions DecisionList
	Distance  float64
}

// TargetAssignment maps vehicle identifiers to their local target edge.
type TargetAssignment map[string]string
