package intersection

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidPhase     = errors.New("intersection: phase out of range")
	ErrUnknownDirection = errors.New("intersection: unknown direction")
)

// Approach is one of the four arms of the intersection, named after the
// side vehicles arrive from.
type Approach int

const (
	North Approach = iota
	South
	East
	West
)

const NumApproaches = 4

// Approaches in phase order.
var Approaches = [NumApproaches]Approach{North, South, East, West}

func (a Approach) String() string {
	switch a {
	case North:
		return "N"
	case South:
		return "S"
	case East:
		return "E"
	case West:
		return "W"
	}
	return fmt.Sprintf("Approach(%d)", int(a))
}

// Direction returns the direction of travel of vehicles queued on the approach.
func (a Approach) Direction() Direction {
	switch a {
	case North:
		return NorthToSouth
	case South:
		return SouthToNorth
	case East:
		return EastToWest
	default:
		return WestToEast
	}
}

// Direction of travel of a vehicle
type Direction int

const (
	NorthToSouth Direction = iota
	SouthToNorth
	WestToEast
	EastToWest
)

var Directions = []Direction{NorthToSouth, SouthToNorth, WestToEast, EastToWest}

func (d Direction) String() string {
	switch d {
	case NorthToSouth:
		return "N->S"
	case SouthToNorth:
		return "S->N"
	case WestToEast:
		return "W->E"
	case EastToWest:
		return "E->W"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// Approach returns the arm a vehicle travelling in d queues on.
func (d Direction) Approach() Approach {
	switch d {
	case NorthToSouth:
		return North
	case SouthToNorth:
		return South
	case EastToWest:
		return East
	case WestToEast:
		return West
	}
	return Approach(-1)
}

func (d Direction) Valid() bool {
	return d >= NorthToSouth && d <= EastToWest
}

// ParseDirection accepts the arrow form ("N->S"), the compact form ("ns")
// and the long form ("north_to_south"), case insensitive.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "n->s", "ns", "north_to_south", "northtosouth":
		return NorthToSouth, nil
	case "s->n", "sn", "south_to_north", "southtonorth":
		return SouthToNorth, nil
	case "w->e", "we", "west_to_east", "westtoeast":
		return WestToEast, nil
	case "e->w", "ew", "east_to_west", "easttowest":
		return EastToWest, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDirection, s)
}

// Phase is the index of the approach currently holding green:
// 0 North, 1 South, 2 East, 3 West.
type Phase int

const NumPhases = 4

func (p Phase) Valid() bool {
	return p >= 0 && p < NumPhases
}

// ParsePhase converts a persisted phase index.
func ParsePhase(i int) (Phase, error) {
	p := Phase(i)
	if !p.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPhase, i)
	}
	return p, nil
}

func (p Phase) Next() Phase {
	return (p + 1) % NumPhases
}

func (p Phase) Approach() Approach {
	return Approach(p)
}

func (p Phase) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return p.Approach().String()
}

// LightColor shown to a direction of travel. Yellow is reserved, the phase
// machine never produces it.
type LightColor int

const (
	Red LightColor = iota
	Yellow
	Green
)

func (c LightColor) String() string {
	switch c {
	case Red:
		return "red"
	case Yellow:
		return "yellow"
	case Green:
		return "green"
	}
	return fmt.Sprintf("LightColor(%d)", int(c))
}

// LightFor is the pure mapping from a phase to the light shown to a
// direction of travel.
func LightFor(p Phase, d Direction) LightColor {
	if p.Valid() && d.Valid() && p.Approach() == d.Approach() {
		return Green
	}
	return Red
}

// Queues holds one queue length per approach, indexed by Approach.
type Queues [NumApproaches]int

func (q Queues) Total() int {
	t := 0
	for _, v := range q {
		t += v
	}
	return t
}
