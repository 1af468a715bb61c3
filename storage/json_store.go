package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
)

// DefaultLockTimeout bounds how long a JSON store waits for its file lock.
const DefaultLockTimeout = 5 * time.Second

// Option configures a history store.
type Option func(*storeOptions)

type storeOptions struct {
	limit       int
	now         func() time.Time
	logger      log.Logger
	lockTimeout time.Duration
}

// WithLimit overrides the number of retained entries.
func WithLimit(limit int) Option {
	return func(o *storeOptions) {
		if limit > 0 {
			o.limit = limit
		}
	}
}

// WithClock overrides the clock used to key new entries.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLockTimeout overrides how long a JSON store waits for the file lock.
func WithLockTimeout(d time.Duration) Option {
	return func(o *storeOptions) {
		if d > 0 {
			o.lockTimeout = d
		}
	}
}

// WithLogger sets the logger used for degraded-read warnings.
func WithLogger(logger log.Logger) Option {
	return func(o *storeOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func newStoreOptions(opts []Option) storeOptions {
	o := storeOptions{
		limit:       DefaultHistoryLimit,
		now:         time.Now,
		logger:      log.NewLogger(),
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// JSONHistoryStore implements HistoryStore on top of a single JSON array file.
// Each mutation holds a cross-process file lock for the duration of its
// read-modify-write cycle and replaces the file atomically.
type JSONHistoryStore struct {
	path string
	lock *FileLock
	opts storeOptions
	mu   sync.Mutex
}

// NewJSONHistoryStore creates a store backed by the file at path. The file is
// not created until the first append.
func NewJSONHistoryStore(path string, opts ...Option) (*JSONHistoryStore, error) {
	if path == "" {
		return nil, &StorageError{Op: "open", Entity: "history", Err: ErrInvalidInput}
	}
	return &JSONHistoryStore{
		path: path,
		lock: NewFileLock(path),
		opts: newStoreOptions(opts),
	}, nil
}

// Path returns the backing file path.
func (s *JSONHistoryStore) Path() string { return s.path }

func (s *JSONHistoryStore) Append(ctx context.Context, entry *HistoryEntry) (HistoryKey, error) {
	if entry == nil {
		return "", &StorageError{Op: "append", Entity: "history", Err: ErrInvalidInput}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(s.opts.lockTimeout); err != nil {
		return "", &StorageError{Op: "lock", Entity: "history", ID: s.lock.Path(), Err: err}
	}
	defer s.lock.Unlock()

	entries := s.read()
	if entry.Key == "" {
		entry.Key = uniqueKey(entries, s.opts.now())
	}

	entries = prependAndTrim(entries, *entry, s.opts.limit)
	if err := s.write(entries); err != nil {
		return "", &StorageError{Op: "append", Entity: "history", ID: entry.Key.String(), Err: err}
	}
	return entry.Key, nil
}

func (s *JSONHistoryStore) Update(ctx context.Context, key HistoryKey, patch HistoryPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(s.opts.lockTimeout); err != nil {
		return false, &StorageError{Op: "lock", Entity: "history", ID: s.lock.Path(), Err: err}
	}
	defer s.lock.Unlock()

	entries := s.read()
	for i := range entries {
		if entries[i].Key != key {
			continue
		}
		patch.Apply(&entries[i])
		if err := s.write(entries); err != nil {
			return false, &StorageError{Op: "update", Entity: "history", ID: key.String(), Err: err}
		}
		return true, nil
	}
	return false, nil
}

func (s *JSONHistoryStore) LoadAll(ctx context.Context) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(), nil
}

// Close releases resources held by the store.
func (s *JSONHistoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock.Unlock()
}

// read loads the log, treating a missing or corrupt file as empty.
func (s *JSONHistoryStore) read() []HistoryEntry {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.opts.logger.Warnf("history: cannot read %s, treating as empty: %s", s.path, err)
		}
		return []HistoryEntry{}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []HistoryEntry{}
	}

	var entries []HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.opts.logger.Warnf("history: %s is corrupt, treating as empty: %s", s.path, err)
		return []HistoryEntry{}
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	return entries
}

// write persists the log to disk atomically.
func (s *JSONHistoryStore) write(entries []HistoryEntry) error {
	return WriteJSONFile(s.path, entries)
}
