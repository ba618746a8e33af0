package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/zeu5/traffic-rl-signal/policies"
)

var tablePrefix = []byte("qtable/")

// BadgerStore keeps one record per state under the "qtable/" prefix.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = &BadgerStore{}

// OpenBadger opens (or creates) a database directory. An empty path opens
// an in-memory database.
func OpenBadger(path string, logger *slog.Logger) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func recordKey(r Record) []byte {
	return []byte(fmt.Sprintf("%s%d/%d/%d/%d/%d", tablePrefix, r.Phase, r.N, r.S, r.E, r.W))
}

func (b *BadgerStore) Load() (*policies.QTable, error) {
	doc := Document{Entries: make([]Record, 0)}
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(tablePrefix); it.ValidForPrefix(tablePrefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				r := Record{}
				if err := json.Unmarshal(val, &r); err != nil {
					return fmt.Errorf("%w: key %s: %v", ErrCorrupt, item.Key(), err)
				}
				doc.Entries = append(doc.Entries, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(doc.Entries) == 0 {
		return nil, ErrNotFound
	}
	return doc.Table()
}

// Save replaces the stored table in a single transaction: either every
// record of q is written and every stale record deleted, or nothing changes.
func (b *BadgerStore) Save(q *policies.QTable) error {
	records := NewDocument(q).Entries
	return b.db.Update(func(txn *badger.Txn) error {
		keep := make(map[string]struct{}, len(records))
		for _, r := range records {
			bs, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("encode record %+v: %w", r, err)
			}
			key := recordKey(r)
			if err := txn.Set(key, bs); err != nil {
				return fmt.Errorf("write record: %w", err)
			}
			keep[string(key)] = struct{}{}
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		stale := make([][]byte, 0)
		for it.Seek(tablePrefix); it.ValidForPrefix(tablePrefix); it.Next() {
			if _, ok := keep[string(it.Item().Key())]; !ok {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		it.Close()

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("delete stale record: %w", err)
			}
		}
		return nil
	})
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
