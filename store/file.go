package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/zeu5/traffic-rl-signal/policies"
	"github.com/zeu5/traffic-rl-signal/util"
)

// FileStore keeps the table as an indented JSON document at Path.
type FileStore struct {
	Path string
}

var _ Store = &FileStore{}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (f *FileStore) Load() (*policies.QTable, error) {
	bs, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	doc := Document{}
	if err := json.Unmarshal(bs, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrCorrupt, f.Path, err)
	}
	return doc.Table()
}

// Save writes the full table atomically. Calling it again with the same
// table rewrites identical content.
func (f *FileStore) Save(q *policies.QTable) error {
	bs, err := json.MarshalIndent(NewDocument(q), "", "  ")
	if err != nil {
		return err
	}
	if err := util.WriteFileAtomic(f.Path, bs, 0644); err != nil {
		return fmt.Errorf("write %s: %w", f.Path, err)
	}
	return nil
}
