package model

import (
	"fmt"
	"strings"
)

// Direction is a topological choice available when leaving an edge.
type Direction string

// Direction codes match the single-letter connection codes used by
// microscopic traffic simulators.
const (
	Straight    Direction = "s"
	TurnAround  Direction = "t"
	Left        Direction = "l"
	Right       Direction = "r"
	SlightLeft  Direction = "L"
	SlightRight Direction = "R"
)

// Directions lists every valid Direction in a fixed evaluation order.
var Directions = []Direction{Straight, TurnAround, SlightRight, Right, SlightLeft, Left}

// Valid reports whether d is one of the enumerated directions.
func (d Direction) Valid() bool {
	switch d {
	case Straight, TurnAround, Left, Right, SlightLeft, SlightRight:
		return true
	default:
		return false
	}
}

// Rank returns the position of d in Directions, or len(Directions) for
// unknown values. It is used to order directions deterministically.
func (d Direction) Rank() int {
	for i, candidate := range Directions {
		if candidate == d {
			return i
		}
	}
	return len(Directions)
}

// Name returns the long, human readable name of d.
func (d Direction) Name() string {
	switch d {
	case Straight:
		return "straight"
	case TurnAround:
		return "turn_around"
	case Left:
		return "left"
	case Right:
		return "right"
	case SlightLeft:
		return "slight_left"
	case SlightRight:
		return "slight_right"
	default:
		return "unknown"
	}
}

func (d Direction) String() string { return d.Name() }

// ParseDirection accepts either the single-letter code or the long name.
// Letter codes are case-sensitive ("l" is left, "L" is slight left); long
// names are not.
func ParseDirection(s string) (Direction, error) {
	trimmed := strings.TrimSpace(s)
	if d := Direction(trimmed); d.Valid() {
		return d, nil
	}
	switch strings.ToLower(strings.ReplaceAll(trimmed, "-", "_")) {
	case "straight":
		return Straight, nil
	case "turn_around", "turnaround", "u_turn":
		return TurnAround, nil
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	case "slight_left":
		return SlightLeft, nil
	case "slight_right":
		return SlightRight, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}
