package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRoute reports that the destination cannot be reached from the
	// start edge in the current topology.
	ErrNoRoute = errors.New("no route found")
	// ErrInsufficientDecisions reports that a decision list ran out before
	// the lookahead distance was covered.
	ErrInsufficientDecisions = errors.New("not enough decisions to compute a valid local target")
	// ErrInvalidDirection reports a decision that is not available from the
	// edge it is applied to.
	ErrInvalidDirection = errors.New("invalid direction")
	// ErrDegenerateLoop reports two consecutive turn-around decisions.
	ErrDegenerateLoop = errors.New("consecutive turn-around decisions")
	// ErrUnknownPolicy is returned by NewRouter for unregistered policy names.
	ErrUnknownPolicy = errors.New("unknown routing policy")
)

// ResolutionError carries the edge reached when local target resolution
// stopped early. Kind is one of ErrInsufficientDecisions,
// ErrInvalidDirection or ErrDegenerateLoop.
type ResolutionError struct {
	Kind error
	Edge string
	Step int
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%v at decision %d (edge %q)", e.Kind, e.Step, e.Edge)
}

func (e *ResolutionError) Unwrap() error { return e.Kind }
