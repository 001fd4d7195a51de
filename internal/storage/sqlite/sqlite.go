// Package sqlite is the production storage.Store, backed by a single
// SQLite database file.
package sqlite

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/introkun/netpass-mirror/internal/core"
	"github.com/introkun/netpass-mirror/internal/storage"
)

//go:embed schema.sql
var schema string

// Store implements storage.Store over a SQLite handle. Single-method
// calls run on their own; Tx groups several into one transaction with
// lock retry.
type Store struct {
	q
	db  dbHandle
	log zerolog.Logger
}

// New opens (creating if needed) the database at path.
func New(path string, log zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return newStore(db, log)
}

// NewInMemory opens a private in-memory database.
func NewInMemory(log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)
	return newStore(db, log)
}

func newStore(db *sql.DB, log zerolog.Logger) (*Store, error) {
	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	h := &queryLogger{inner: db, log: log}
	return &Store{q: q{h: h}, db: h, log: log}, nil
}

// Tx runs fn in a single transaction, retried on lock contention. fn
// must be safe to re-run: on retry it executes against a fresh
// transaction.
func (s *Store) Tx(fn func(storage.Ops) error) error {
	return retryOnDBLock(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		if err := fn(&q{h: tx}); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// ReplaceMemberships is multi-statement, so the non-Tx form runs in its
// own transaction.
func (s *Store) ReplaceMemberships(device core.DeviceID, titleIDs []uint32, now int64) error {
	return s.Tx(func(ops storage.Ops) error {
		return ops.ReplaceMemberships(device, titleIDs, now)
	})
}

// PurgeDevice is multi-statement, so the non-Tx form runs in its own
// transaction.
func (s *Store) PurgeDevice(device core.DeviceID) error {
	return s.Tx(func(ops storage.Ops) error {
		return ops.PurgeDevice(device)
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
