package core

import (
	"fmt"

	"github.com/signalsfoundry/road-router/kb"
	"github.com/signalsfoundry/road-router/model"
)

// Plan is the outcome of planning one vehicle for one tick.
type Plan struct {
	// Decisions holds the committed directions, in order.
	Decisions model.DecisionList
	// Edges holds the edge reached after each decision.
	Edges []string
	// Switches counts how often a less congested branch replaced the
	// shortest-path choice.
	Switches int
}

// PlanRoute builds a decision list for v by repeatedly following the
// shortest route to its destination.
//
// When explore is set and the vehicle has slack relative to the batch
// (v.Deadline > avgDeadline), every step also considers the other
// directions leaving the current edge and switches to one whose next edge
// is less occupied, or equally occupied but shorter overall. Alternatives
// are never dead ends (unless they are the destination) and never edges the
// vehicle already passed this tick. The evaluation is greedy: each accepted
// alternative becomes the baseline for the remaining directions.
//
// A vehicle that cannot reach its destination yields the decisions gathered
// so far together with an error wrapping ErrNoRoute.
func PlanRoute(topo *kb.Snapshot, v model.Vehicle, avgDeadline float64, explore bool) (Plan, error) {
	var plan Plan
	slack := explore && v.Deadline > avgDeadline

	current := v.CurrentEdge
	visited := make(map[string]struct{})

	var route model.DecisionList
	var remaining float64

	for current != v.Destination {
		visited[current] = struct{}{}

		if len(route) == 0 {
			res, err := FindRoute(topo, current, v.Destination)
			if err != nil {
				return plan, err
			}
			route, remaining = res.Decisions, res.Distance
		}

		choice := route[0]
		next, ok := topo.Next(current, choice)
		if !ok {
			return plan, fmt.Errorf("%w: %s from %q", ErrInvalidDirection, choice, current)
		}

		if slack {
			for _, dir := range topo.Directions(current) {
				if dir == choice || next == v.Destination {
					continue
				}
				alt, _ := topo.Next(current, dir)
				if alt != v.Destination && topo.IsDeadEnd(alt) {
					continue
				}
				if _, seen := visited[alt]; seen {
					continue
				}
				if topo.Occupancy(alt) > topo.Occupancy(next) {
					continue
				}
				altRes, err := FindRoute(topo, alt, v.Destination)
				if err != nil {
					continue
				}
				altDistance := topo.Length(alt) + altRes.Distance
				if topo.Occupancy(alt) < topo.Occupancy(next) || altDistance < remaining {
					route = altRes.Decisions.Prepend(dir)
					remaining = altDistance
					choice, next = dir, alt
					plan.Switches++
				}
			}
		}

		plan.Decisions = append(plan.Decisions, choice)
		plan.Edges = append(plan.Edges, next)
		route = route[1:]
		remaining -= topo.Length(next)
		current = next
	}

	return plan, nil
}
