package util

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to a temporary file in the same directory and
// renames it over savePath, so readers never observe a partial file.
func WriteFileAtomic(savePath string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(savePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(savePath)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := f.Name()
	defer os.Remove(tmpName)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, savePath)
}

// LineWriter appends lines to a file kept open between writes.
type LineWriter struct {
	f *os.File
	w *bufio.Writer
}

// OpenAppend opens savePath for appending, creating it if needed.
func OpenAppend(savePath string) (*LineWriter, error) {
	f, err := os.OpenFile(savePath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	return &LineWriter{f: f, w: bufio.NewWriter(f)}, nil
}

// WriteLine buffers line followed by a newline.
func (l *LineWriter) WriteLine(line []byte) error {
	if _, err := l.w.Write(line); err != nil {
		return err
	}
	return l.w.WriteByte('\n')
}

func (l *LineWriter) Flush() error {
	return l.w.Flush()
}

// Close flushes the buffered lines and closes the file.
func (l *LineWriter) Close() error {
	err := l.w.Flush()
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	return err
}
