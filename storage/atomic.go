package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var errWriterDone = errors.New("atomic writer already committed or aborted")

// AtomicWriter writes a file through a temp file in the same directory and
// renames it over the target on Commit. Readers see either the old or the
// new content, never a partial write.
type AtomicWriter struct {
	path    string
	tmpPath string
	file    *os.File
	done    bool
}

// NewAtomicWriter creates the target's directory if needed and opens a temp
// file next to it. The temp file, and so the committed file, is 0600.
func NewAtomicWriter(path string) (*AtomicWriter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &AtomicWriter{path: path, tmpPath: tmp.Name(), file: tmp}, nil
}

func (w *AtomicWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, errWriterDone
	}
	return w.file.Write(p)
}

// Commit flushes the temp file, renames it over the target and syncs the
// directory so the rename itself survives a crash. On failure the temp file
// is removed and the target is left untouched.
func (w *AtomicWriter) Commit() error {
	if w.done {
		return errWriterDone
	}
	w.done = true

	if err := w.file.Sync(); err != nil {
		w.discard()
		return fmt.Errorf("sync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	if err := syncDir(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("sync directory: %w", err)
	}
	return nil
}

// Abort discards the temp file. It is a no-op after Commit or a previous
// Abort.
func (w *AtomicWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.discard()
}

func (w *AtomicWriter) discard() error {
	w.file.Close()
	return os.Remove(w.tmpPath)
}

// WriteJSONFile atomically replaces path with the indented JSON encoding of v.
func WriteJSONFile(path string, v any) error {
	w, err := NewAtomicWriter(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		w.Abort()
		return err
	}
	return w.Commit()
}
