// Package sqlite provides a SQLite-backed [persist.LocalStore] for on-device
// state: the guest document, the selected mood and the current-session
// pointer.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/MrWong99/inkmemory/pkg/persist"
)

const ddlBlobs = `
CREATE TABLE IF NOT EXISTS local_blobs (
    key         TEXT     PRIMARY KEY,
    value       BLOB     NOT NULL,
    updated_at  INTEGER  NOT NULL
);`

var _ persist.LocalStore = (*Store)(nil)

// Store is a key/value blob store in a single SQLite file.
type Store struct {
	db     *sql.DB
	path   string
	closed atomic.Bool
}

// NewStore opens (creating if needed) the database file at path. The parent
// directory is created with 0700 permissions.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("sqlite store: create directory: %w", err)
	}

	// WAL mode lets the autosave writer and readers proceed concurrently.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	if _, err := db.Exec(ddlBlobs); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Get implements [persist.LocalStore].
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, persist.ErrClosed
	}
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM local_blobs WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persist.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get %q: %w", key, err)
	}
	return value, nil
}

// Set implements [persist.LocalStore].
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if s.closed.Load() {
		return persist.ErrClosed
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO local_blobs (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite store: set %q: %w", key, err)
	}
	return nil
}

// Remove implements [persist.LocalStore].
func (s *Store) Remove(ctx context.Context, key string) error {
	if s.closed.Load() {
		return persist.ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM local_blobs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite store: remove %q: %w", key, err)
	}
	return nil
}

// Ping checks that the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return persist.ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close closes the database. Further calls return [persist.ErrClosed].
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
