package core

import (
	"math"

	"github.com/signalsfoundry/road-router/kb"
	"github.com/signalsfoundry/road-router/model"
)

// LookaheadMin is the minimum distance a local target must lie ahead of the
// vehicle so the host does not consider it arrived prematurely.
const LookaheadMin = 20.0

// Resolver converts a decision list into a single local target edge.
type Resolver struct {
	// LookaheadMin overrides the package default when positive.
	LookaheadMin float64
}

// Lookahead returns the distance a target must exceed for a vehicle
// travelling at speed.
func (r Resolver) Lookahead(speed float64) float64 {
	floor := r.LookaheadMin
	if floor <= 0 {
		floor = LookaheadMin
	}
	return math.Max(speed, floor)
}

// Resolve walks decisions from v.CurrentEdge until the covered distance
// exceeds the lookahead or the destination is reached, and returns the edge
// it stopped on.
//
// Running out of decisions, meeting a direction the current edge does not
// offer, or two consecutive turn-arounds stop the walk early. The edge
// reached so far is still returned, with a *ResolutionError describing why.
func (r Resolver) Resolve(topo *kb.Snapshot, decisions model.DecisionList, v model.Vehicle) (string, error) {
	target, _, err := r.walk(topo, decisions, v)
	return target, err
}

// walk also reports the distance covered between the current edge and the
// returned target.
func (r Resolver) walk(topo *kb.Snapshot, decisions model.DecisionList, v model.Vehicle) (string, float64, error) {
	target := v.CurrentEdge
	lookahead := r.Lookahead(v.Speed)

	var covered float64
	for i := 0; covered <= lookahead; i++ {
		if target == v.Destination {
			return target, covered, nil
		}
		if i >= len(decisions) {
			return target, covered, &ResolutionError{Kind: ErrInsufficientDecisions, Edge: target, Step: i}
		}
		next, ok := topo.Next(target, decisions[i])
		if !ok {
			return target, covered, &ResolutionError{Kind: ErrInvalidDirection, Edge: target, Step: i}
		}
		target = next
		covered += topo.Length(target)

		if i > 0 && decisions[i] == model.TurnAround && decisions[i-1] == model.TurnAround {
			return target, covered, &ResolutionError{Kind: ErrDegenerateLoop, Edge: target, Step: i}
		}
	}
	return target, covered, nil
}

// ResolveLocalTarget resolves with the default lookahead.
func ResolveLocalTarget(topo *kb.Snapshot, decisions model.DecisionList, v model.Vehicle) (string, error) {
	return Resolver{}.Resolve(topo, decisions, v)
}

// PathLength sums the lengths of the edges entered by following decisions
// from start, stopping early at the first invalid direction.
func PathLength(topo *kb.Snapshot, start string, decisions model.DecisionList) (string, float64) {
	edge := start
	var total float64
	for _, d := range decisions {
		next, ok := topo.Next(edge, d)
		if !ok {
			break
		}
		edge = next
		total += topo.Length(edge)
	}
	return edge, total
}
