package policies

import (
	"fmt"

	"github.com/zeu5/traffic-rl-signal/intersection"
)

// Action the controller can take at a decision step
type Action int

const (
	Hold Action = iota
	Advance
)

const NumActions = 2

var AllActions = [NumActions]Action{Hold, Advance}

func (a Action) Hash() string {
	return a.String()
}

func (a Action) String() string {
	switch a {
	case Hold:
		return "Hold"
	case Advance:
		return "Advance"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

func (a Action) Valid() bool {
	return a == Hold || a == Advance
}

// StateKey is the discretized MDP state: four clamped queue lengths and the
// green phase. It is a comparable value type and is used directly as a map key.
type StateKey struct {
	N     int
	S     int
	E     int
	W     int
	Phase intersection.Phase
}

func (k StateKey) Hash() string {
	return fmt.Sprintf("(%d, %d, %d, %d | %d)", k.N, k.S, k.E, k.W, k.Phase)
}

func (k StateKey) Queues() intersection.Queues {
	return intersection.Queues{k.N, k.S, k.E, k.W}
}

// Encoder clamps raw queue counts to [0, QueueCap].
type Encoder struct {
	QueueCap int
}

func NewEncoder(queueCap int) Encoder {
	return Encoder{QueueCap: queueCap}
}

func (e Encoder) Encode(raw intersection.Queues, phase intersection.Phase) StateKey {
	return StateKey{
		N:     e.clamp(raw[intersection.North]),
		S:     e.clamp(raw[intersection.South]),
		E:     e.clamp(raw[intersection.East]),
		W:     e.clamp(raw[intersection.West]),
		Phase: phase,
	}
}

func (e Encoder) clamp(v int) int {
	if v < 0 {
		return 0
	}
	return min(v, e.QueueCap)
}

// NumStates is the number of distinct keys the encoder can produce.
func (e Encoder) NumStates() int {
	n := e.QueueCap + 1
	return n * n * n * n * intersection.NumPhases
}

// Reward is the negated sum of squared queue lengths, computed on the
// uncapped counts. It is never positive.
func Reward(q intersection.Queues) float64 {
	sum := 0
	for _, v := range q {
		sum += v * v
	}
	return -float64(sum)
}
