package policies

import (
	"time"

	"golang.org/x/exp/rand"
)

// Rand is the random source used for exploration
type Rand interface {
	Float64() float64
	Intn(int) int
}

// NewRand returns a seeded source. A zero seed draws one from the clock.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewSource(seed))
}

func randomAction(r Rand) Action {
	return AllActions[r.Intn(NumActions)]
}

// ChooseAction is epsilon-greedy selection. With probability epsilon, or
// when the state has never been visited, a uniformly random action is
// returned. Otherwise the greedy action, with ties going to Hold.
// The second value reports whether the choice was random.
func ChooseAction(state StateKey, table *QTable, epsilon float64, r Rand) (Action, bool) {
	if r.Float64() < epsilon {
		return randomAction(r), true
	}
	values, ok := table.Get(state)
	if !ok {
		return randomAction(r), true
	}
	return values.Best(), false
}

// QLearningPolicy is tabular Q-learning with epsilon-greedy exploration.
type QLearningPolicy struct {
	qTable  *QTable
	alpha   float64
	gamma   float64
	epsilon float64
	rand    Rand
}

func NewQLearningPolicy(alpha, gamma, epsilon float64, r Rand) *QLearningPolicy {
	return &QLearningPolicy{
		qTable:  NewQTable(),
		alpha:   alpha,
		gamma:   gamma,
		epsilon: epsilon,
		rand:    r,
	}
}

func (p *QLearningPolicy) Table() *QTable {
	return p.qTable
}

// SetTable replaces the learned table, used after loading from a store
func (p *QLearningPolicy) SetTable(t *QTable) {
	if t == nil {
		t = NewQTable()
	}
	p.qTable = t
}

func (p *QLearningPolicy) Reset() {
	p.qTable = NewQTable()
}

func (p *QLearningPolicy) Epsilon() float64 {
	return p.epsilon
}

func (p *QLearningPolicy) NextAction(state StateKey) (Action, bool) {
	return ChooseAction(state, p.qTable, p.epsilon, p.rand)
}

func (p *QLearningPolicy) Update(state StateKey, action Action, reward float64, nextState StateKey) float64 {
	return p.qTable.Update(state, action, reward, nextState, p.alpha, p.gamma)
}
