package intersection

import "sync/atomic"

// Signal is the light state published for vehicle agents after a decision step.
type Signal struct {
	Phase      Phase  `json:"phase"`
	PhaseTimer int    `json:"phase_timer"`
	Step       uint64 `json:"step"`
}

func (s Signal) LightFor(d Direction) LightColor {
	return LightFor(s.Phase, d)
}

// Lights returns the color for every direction of travel
func (s Signal) Lights() map[Direction]LightColor {
	out := make(map[Direction]LightColor, len(Directions))
	for _, d := range Directions {
		out[d] = s.LightFor(d)
	}
	return out
}

// Actuator is the four phase cyclic state machine. Hold and Advance are
// called from the control loop only; Current and LightFor may be called
// from any goroutine and observe the last published Signal.
type Actuator struct {
	phase Phase
	timer int
	steps uint64

	published atomic.Pointer[Signal]
}

func NewActuator() *Actuator {
	a := &Actuator{}
	a.Reset()
	return a
}

// Reset puts the machine back to phase 0 with a zero timer and publishes it.
func (a *Actuator) Reset() {
	a.phase = 0
	a.timer = 0
	a.steps = 0
	a.published.Store(&Signal{})
}

func (a *Actuator) Hold() {
	a.timer += 1
}

func (a *Actuator) Advance() {
	a.phase = a.phase.Next()
	a.timer = 0
}

// Phase is the working phase, which may be ahead of the published one
// within a decision step.
func (a *Actuator) Phase() Phase {
	return a.phase
}

func (a *Actuator) PhaseTimer() int {
	return a.timer
}

// Publish makes the working state visible to readers in a single store.
// Each call counts as one completed decision step.
func (a *Actuator) Publish() Signal {
	a.steps += 1
	s := &Signal{
		Phase:      a.phase,
		PhaseTimer: a.timer,
		Step:       a.steps,
	}
	a.published.Store(s)
	return *s
}

func (a *Actuator) Current() Signal {
	return *a.published.Load()
}

func (a *Actuator) LightFor(d Direction) LightColor {
	return a.Current().LightFor(d)
}
