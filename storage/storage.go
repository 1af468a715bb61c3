// Package storage persists upload history and the cached category list.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for common storage conditions.
var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("storage: not found")
	// ErrInvalidInput indicates invalid or malformed input was provided.
	ErrInvalidInput = errors.New("storage: invalid input")
	// ErrStorageCorrupt indicates data corruption was detected.
	ErrStorageCorrupt = errors.New("storage: data corruption detected")
	// ErrLockTimeout indicates a timeout acquiring a file lock.
	ErrLockTimeout = errors.New("storage: lock acquisition timeout")
)

// StorageError wraps storage errors with operation and entity context.
// Use errors.As() to extract this error type and get operation details:
//
//	var storErr *storage.StorageError
//	if errors.As(err, &storErr) {
//		fmt.Printf("Failed to %s %s %s: %v\n", storErr.Op, storErr.Entity, storErr.ID, storErr.Err)
//	}
type StorageError struct {
	// Op is the operation that failed ("append", "update", "read", "write", "lock").
	Op string
	// Entity is the entity type ("history", "categories", "file").
	Entity string
	// ID is the entity key if applicable.
	ID string
	// Err is the underlying error that occurred.
	Err error
}

// Error returns a string representation of the storage error.
func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("storage: %s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *StorageError) Unwrap() error { return e.Err }

// DefaultHistoryLimit is the number of entries retained by a history store.
const DefaultHistoryLimit = 100

// HistoryStore is a durable, most-recent-first log of upload attempts.
//
// Every mutation reloads and rewrites the whole log. Implementations are safe
// for concurrent use within a process, but callers are expected to serialize
// mutations for one upload through a single control goroutine.
type HistoryStore interface {
	// Append assigns a key if the entry has none, prepends it, enforces the
	// retention limit, persists the log and returns the key.
	Append(ctx context.Context, entry *HistoryEntry) (HistoryKey, error)
	// Update merges patch into the first entry whose key matches. It returns
	// false, and leaves the backing store untouched, when no entry matches.
	Update(ctx context.Context, key HistoryKey, patch HistoryPatch) (bool, error)
	// LoadAll returns every retained entry, most recent first. Missing or
	// unreadable storage yields an empty log rather than an error.
	LoadAll(ctx context.Context) ([]HistoryEntry, error)
	// Close releases any resources held by the store.
	Close() error
}

// History backends accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Open returns the history store for backend. An empty backend selects JSON.
func Open(backend, path string, opts ...Option) (HistoryStore, error) {
	switch backend {
	case "", BackendJSON:
		return NewJSONHistoryStore(path, opts...)
	case BackendSQLite:
		return NewSQLiteHistoryStore(path, opts...)
	default:
		return nil, &StorageError{Op: "open", Entity: "history", ID: backend, Err: ErrInvalidInput}
	}
}
