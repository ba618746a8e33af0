package store

import (
	"bytes"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeu5/traffic-rl-signal/policies"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func sampleTable() *policies.QTable {
	q := policies.NewQTable()
	q.Set(policies.StateKey{N: 2, S: 1, Phase: 2}, policies.ActionValues{0.5, -0.3})
	return q
}

func TestFileStoreRoundTrip(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "traffic_qtable.json"))
	require.NoError(t, s.Save(sampleTable()))

	q, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, 1, q.Len())
	v, ok := q.Get(policies.StateKey{N: 2, S: 1, Phase: 2})
	require.True(t, ok)
	assert.Equal(t, policies.ActionValues{0.5, -0.3}, v)
}

func TestFileStoreExactFloats(t *testing.T) {
	q := policies.NewQTable()
	q.Update(policies.StateKey{N: 1}, policies.Hold, -5, policies.StateKey{N: 1, Phase: 1}, 0.1, 0.9)
	q.Update(policies.StateKey{N: 1}, policies.Advance, -1.0/3.0, policies.StateKey{N: 1, Phase: 1}, 0.37, 0.9)

	s := NewFileStore(filepath.Join(t.TempDir(), "t.json"))
	require.NoError(t, s.Save(q))
	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, q.Entries(), loaded.Entries())
}

func TestFileStoreFormat(t *testing.T) {
	p := filepath.Join(t.TempDir(), "t.json")
	require.NoError(t, NewFileStore(p).Save(sampleTable()))
	bs, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"entries":[{"n":2,"s":1,"e":0,"w":0,"phase":2,"q0":0.5,"q1":-0.3}]}`, string(bs))
}

func TestFileStoreEmptyTable(t *testing.T) {
	p := filepath.Join(t.TempDir(), "t.json")
	require.NoError(t, NewFileStore(p).Save(policies.NewQTable()))
	bs, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"entries":[]}`, string(bs))
}

func TestFileStoreSaveIsIdempotent(t *testing.T) {
	p := filepath.Join(t.TempDir(), "t.json")
	s := NewFileStore(p)
	q := sampleTable()
	require.NoError(t, s.Save(q))
	first, err := os.ReadFile(p)
	require.NoError(t, err)
	require.NoError(t, s.Save(q))
	second, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFileStoreColdStart(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "missing.json"))
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNotFound)

	q := LoadOrEmpty(s, discardLogger())
	require.NotNil(t, q)
	assert.Equal(t, 0, q.Len())
}

func TestFileStoreCorrupt(t *testing.T) {
	cases := map[string]string{
		"garbage":   "not json at all",
		"truncated": `{"entries":[{"n":1,`,
		"bad phase": `{"entries":[{"n":1,"s":0,"e":0,"w":0,"phase":9,"q0":0,"q1":0}]}`,
		"negative":  `{"entries":[{"n":-1,"s":0,"e":0,"w":0,"phase":0,"q0":0,"q1":0}]}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "t.json")
			require.NoError(t, os.WriteFile(p, []byte(content), 0644))
			s := NewFileStore(p)

			_, err := s.Load()
			assert.ErrorIs(t, err, ErrCorrupt)

			q := LoadOrEmpty(s, discardLogger())
			assert.Equal(t, 0, q.Len())
		})
	}
}

func TestFileStoreSaveFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	// parent of the target is a regular file
	s := NewFileStore(filepath.Join(blocker, "t.json"))
	assert.Error(t, s.Save(sampleTable()))
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	s, err := OpenBadger("", nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Load()
	assert.ErrorIs(t, err, ErrNotFound)

	big := sampleTable()
	big.Set(policies.StateKey{W: 4, Phase: 3}, policies.ActionValues{-1, -2})
	require.NoError(t, s.Save(big))

	// the second save fully replaces the first
	require.NoError(t, s.Save(sampleTable()))

	q, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, sampleTable().Entries(), q.Entries())
}

func TestBadgerStoreFailedSaveKeepsPreviousTable(t *testing.T) {
	s, err := OpenBadger("", nil)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Save(sampleTable()))

	bad := policies.NewQTable()
	bad.Set(policies.StateKey{E: 1}, policies.ActionValues{-1, 0})
	bad.Set(policies.StateKey{W: 3, Phase: 1}, policies.ActionValues{math.NaN(), 0})
	assert.Error(t, s.Save(bad))

	q, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, sampleTable().Entries(), q.Entries())
}

func TestBadgerStoreOnDisk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	s, err := OpenBadger(dir, discardLogger())
	require.NoError(t, err)
	require.NoError(t, s.Save(sampleTable()))
	require.NoError(t, s.Close())

	s, err = OpenBadger(dir, discardLogger())
	require.NoError(t, err)
	defer s.Close()
	q := LoadOrEmpty(s, discardLogger())
	assert.Equal(t, 1, q.Len())
}
