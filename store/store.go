// Package store persists the learned Q-table between runs.
//
// Two backends share one record schema: FileStore writes the JSON document
//
//	{ "entries": [ { "n": 2, "s": 1, "e": 0, "w": 0, "phase": 2, "q0": 0.5, "q1": -0.3 } ] }
//
// and BadgerStore keeps one record per key in an embedded BadgerDB. A load
// always replaces the in-memory table; it never merges.
package store

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zeu5/traffic-rl-signal/intersection"
	"github.com/zeu5/traffic-rl-signal/policies"
)

var (
	// ErrNotFound means there is no persisted table yet (cold start)
	ErrNotFound = errors.New("store: no persisted table")
	// ErrCorrupt means the persisted data could not be interpreted
	ErrCorrupt = errors.New("store: corrupt table")
)

// Record is the serialized form of one table row. Q0 is the Hold value,
// Q1 the Advance value.
type Record struct {
	N     int     `json:"n"`
	S     int     `json:"s"`
	E     int     `json:"e"`
	W     int     `json:"w"`
	Phase int     `json:"phase"`
	Q0    float64 `json:"q0"`
	Q1    float64 `json:"q1"`
}

// Document is the top level of the JSON file
type Document struct {
	Entries []Record `json:"entries"`
}

type Store interface {
	Load() (*policies.QTable, error)
	Save(*policies.QTable) error
}

func RecordFromEntry(e policies.Entry) Record {
	return Record{
		N:     e.Key.N,
		S:     e.Key.S,
		E:     e.Key.E,
		W:     e.Key.W,
		Phase: int(e.Key.Phase),
		Q0:    e.Values[policies.Hold],
		Q1:    e.Values[policies.Advance],
	}
}

func (r Record) Entry() (policies.Entry, error) {
	phase, err := intersection.ParsePhase(r.Phase)
	if err != nil {
		return policies.Entry{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if r.N < 0 || r.S < 0 || r.E < 0 || r.W < 0 {
		return policies.Entry{}, fmt.Errorf("%w: negative queue in %+v", ErrCorrupt, r)
	}
	return policies.Entry{
		Key: policies.StateKey{
			N:     r.N,
			S:     r.S,
			E:     r.E,
			W:     r.W,
			Phase: phase,
		},
		Values: policies.ActionValues{r.Q0, r.Q1},
	}, nil
}

// NewDocument converts the whole table into its serialized form.
func NewDocument(q *policies.QTable) Document {
	entries := q.Entries()
	doc := Document{Entries: make([]Record, len(entries))}
	for i, e := range entries {
		doc.Entries[i] = RecordFromEntry(e)
	}
	return doc
}

// Table builds a fresh table from the document. Any invalid record makes
// the whole document invalid.
func (d Document) Table() (*policies.QTable, error) {
	entries := make([]policies.Entry, 0, len(d.Entries))
	for _, r := range d.Entries {
		e, err := r.Entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	q := policies.NewQTable()
	q.Replace(entries)
	return q, nil
}

// LoadOrEmpty never fails: a missing table is a cold start and any other
// failure is logged and discarded in favour of an empty table.
func LoadOrEmpty(s Store, logger *slog.Logger) *policies.QTable {
	if logger == nil {
		logger = slog.Default()
	}
	q, err := s.Load()
	switch {
	case err == nil:
		logger.Info("loaded q-table", "entries", q.Len())
		return q
	case errors.Is(err, ErrNotFound):
		logger.Info("no previous q-table found, starting from scratch")
	default:
		logger.Error("failed to load q-table, starting from scratch", "error", err)
	}
	return policies.NewQTable()
}
