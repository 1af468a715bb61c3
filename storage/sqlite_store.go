package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA busy_timeout=5000;`,
	`
CREATE TABLE IF NOT EXISTS history (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	key TEXT NOT NULL UNIQUE,
	data TEXT NOT NULL
);
`,
}

// SQLiteHistoryStore implements HistoryStore on a single SQLite table. Rows
// hold the JSON encoding of an entry so both backends share one format.
type SQLiteHistoryStore struct {
	db   *sql.DB
	path string
	opts storeOptions
	mu   sync.Mutex
}

// NewSQLiteHistoryStore opens (creating if needed) the database at path.
func NewSQLiteHistoryStore(path string, opts ...Option) (*SQLiteHistoryStore, error) {
	if path == "" {
		return nil, &StorageError{Op: "open", Entity: "history", Err: ErrInvalidInput}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &StorageError{Op: "open", Entity: "history", Err: fmt.Errorf("create directory: %w", err)}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StorageError{Op: "open", Entity: "history", Err: err}
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, &StorageError{Op: "open", Entity: "history", Err: err}
		}
	}

	return &SQLiteHistoryStore{db: db, path: path, opts: newStoreOptions(opts)}, nil
}

func (s *SQLiteHistoryStore) Append(ctx context.Context, entry *HistoryEntry) (HistoryKey, error) {
	if entry == nil {
		return "", &StorageError{Op: "append", Entity: "history", Err: ErrInvalidInput}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", &StorageError{Op: "append", Entity: "history", Err: err}
	}
	defer tx.Rollback()

	if entry.Key == "" {
		key := NewHistoryKey(s.opts.now())
		for {
			var n int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM history WHERE key = ?`, string(key)).Scan(&n); err != nil {
				return "", &StorageError{Op: "append", Entity: "history", Err: err}
			}
			if n == 0 {
				break
			}
			t, _ := key.Time()
			key = uniqueKey([]HistoryEntry{{Key: key}}, t)
		}
		entry.Key = key
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return "", &StorageError{Op: "append", Entity: "history", ID: entry.Key.String(), Err: err}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO history (key, data) VALUES (?, ?)`, string(entry.Key), string(data)); err != nil {
		return "", &StorageError{Op: "append", Entity: "history", ID: entry.Key.String(), Err: err}
	}

	if _, err := tx.ExecContext(ctx, `
DELETE FROM history
WHERE seq NOT IN (SELECT seq FROM history ORDER BY seq DESC LIMIT ?)
`, s.opts.limit); err != nil {
		return "", &StorageError{Op: "append", Entity: "history", ID: entry.Key.String(), Err: err}
	}

	if err := tx.Commit(); err != nil {
		return "", &StorageError{Op: "append", Entity: "history", ID: entry.Key.String(), Err: err}
	}
	return entry.Key, nil
}

func (s *SQLiteHistoryStore) Update(ctx context.Context, key HistoryKey, patch HistoryPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, &StorageError{Op: "update", Entity: "history", ID: key.String(), Err: err}
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT data FROM history WHERE key = ?`, string(key)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &StorageError{Op: "update", Entity: "history", ID: key.String(), Err: err}
	}

	var entry HistoryEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return false, &StorageError{Op: "update", Entity: "history", ID: key.String(), Err: ErrStorageCorrupt}
	}
	patch.Apply(&entry)

	data, err := json.Marshal(&entry)
	if err != nil {
		return false, &StorageError{Op: "update", Entity: "history", ID: key.String(), Err: err}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE history SET data = ? WHERE key = ?`, string(data), string(key)); err != nil {
		return false, &StorageError{Op: "update", Entity: "history", ID: key.String(), Err: err}
	}

	if err := tx.Commit(); err != nil {
		return false, &StorageError{Op: "update", Entity: "history", ID: key.String(), Err: err}
	}
	return true, nil
}

func (s *SQLiteHistoryStore) LoadAll(ctx context.Context) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := []HistoryEntry{}
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM history ORDER BY seq DESC LIMIT ?`, s.opts.limit)
	if err != nil {
		s.opts.logger.Warnf("history: cannot query %s, treating as empty: %s", s.path, err)
		return entries, nil
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			s.opts.logger.Warnf("history: cannot scan row in %s: %s", s.path, err)
			continue
		}
		var entry HistoryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			s.opts.logger.Warnf("history: skipping corrupt row in %s: %s", s.path, err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		s.opts.logger.Warnf("history: reading %s: %s", s.path, err)
	}
	return entries, nil
}

// Close closes the underlying database.
func (s *SQLiteHistoryStore) Close() error {
	return s.db.Close()
}
