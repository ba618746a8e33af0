package policies

import (
	"cmp"
	"slices"
)

// ActionValues holds Q(s, Hold) and Q(s, Advance)
type ActionValues [NumActions]float64

// Best returns the greedy action; ties go to Hold.
func (v ActionValues) Best() Action {
	if v[Hold] >= v[Advance] {
		return Hold
	}
	return Advance
}

func (v ActionValues) Max() float64 {
	return max(v[Hold], v[Advance])
}

// Entry is one populated row of the table
type Entry struct {
	Key    StateKey
	Values ActionValues
}

// QTable maps states to action values. Rows are created on demand at zero
// and never removed.
type QTable struct {
	table map[StateKey]ActionValues
}

func NewQTable() *QTable {
	return &QTable{
		table: make(map[StateKey]ActionValues),
	}
}

func (q *QTable) Len() int {
	return len(q.table)
}

func (q *QTable) HasState(state StateKey) bool {
	_, ok := q.table[state]
	return ok
}

// Get returns a copy of the row without creating it
func (q *QTable) Get(state StateKey) (ActionValues, bool) {
	v, ok := q.table[state]
	return v, ok
}

func (q *QTable) Set(state StateKey, values ActionValues) {
	q.table[state] = values
}

// ensure creates a zero row for the state if absent
func (q *QTable) ensure(state StateKey) ActionValues {
	v, ok := q.table[state]
	if !ok {
		q.table[state] = v
	}
	return v
}

// Update applies the one step Q-learning rule
//
//	Q(s,a) += alpha * (r + gamma * max_a' Q(s',a') - Q(s,a))
//
// creating zero rows for both s and s' first. Returns the new Q(s,a).
func (q *QTable) Update(state StateKey, action Action, reward float64, nextState StateKey, alpha, gamma float64) float64 {
	cur := q.ensure(state)
	next := q.ensure(nextState)

	qOld := cur[action]
	qMaxNext := next.Max()
	cur[action] = qOld + alpha*(reward+gamma*qMaxNext-qOld)
	q.table[state] = cur
	return cur[action]
}

// Entries returns every row ordered by key, so serialized tables are stable.
func (q *QTable) Entries() []Entry {
	out := make([]Entry, 0, len(q.table))
	for k, v := range q.table {
		out = append(out, Entry{Key: k, Values: v})
	}
	slices.SortFunc(out, func(a, b Entry) int {
		return compareKeys(a.Key, b.Key)
	})
	return out
}

// Replace discards the current content and installs the given entries.
func (q *QTable) Replace(entries []Entry) {
	q.table = make(map[StateKey]ActionValues, len(entries))
	for _, e := range entries {
		q.table[e.Key] = e.Values
	}
}

func (q *QTable) Copy() *QTable {
	n := &QTable{table: make(map[StateKey]ActionValues, len(q.table))}
	for k, v := range q.table {
		n.table[k] = v
	}
	return n
}

func compareKeys(a, b StateKey) int {
	return cmp.Or(
		cmp.Compare(a.Phase, b.Phase),
		cmp.Compare(a.N, b.N),
		cmp.Compare(a.S, b.S),
		cmp.Compare(a.E, b.E),
		cmp.Compare(a.W, b.W),
	)
}
