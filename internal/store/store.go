// Package store owns the orchestrator's transactional SQLite database.
//
// Connection discipline: one write connection (SetMaxOpenConns(1)) in WAL
// mode with a bounded busy timeout, plus a read-only connection pool so
// reads never queue behind writers. Every mutating lifecycle operation runs
// as a single transaction on the write connection.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the orchestrator database connections.
type Store struct {
	db     *sql.DB // write connection (single writer)
	readDB *sql.DB // read connection pool (concurrent readers)
	dbPath string
}

// Open opens (creating if necessary) the orchestrator database at dbPath
// and applies migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	s := &Store{db: db, dbPath: dbPath}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	// Read pool opens after migration so the database file exists.
	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	s.readDB = readDB

	return s, nil
}

// migrate creates the persisted layout: the artifact head table, the
// immutable version snapshots, the append-only event ledger, and the two
// registries. artifact_events carries a monotonic seq column as the
// deterministic tie-break for identical timestamps.
func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			schema_ref TEXT NOT NULL,
			state TEXT NOT NULL,
			version INTEGER NOT NULL,
			data TEXT NOT NULL,
			blob_ref TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS artifact_versions (
			artifact_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			schema_ref TEXT NOT NULL,
			state TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (artifact_id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS artifact_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL UNIQUE,
			artifact_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			actor_type TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			metadata TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_artifact
			ON artifact_events(artifact_id, timestamp, event_id)`,
		`CREATE TABLE IF NOT EXISTS manifests (
			name TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			body TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS schemas (
			schema_ref TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			document TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migration failed: %w", err)
		}
	}
	return nil
}

// Writer returns the single-writer connection. Mutating transactions must
// use this handle.
func (s *Store) Writer() *sql.DB {
	return s.db
}

// Reader returns the read-only connection pool.
func (s *Store) Reader() *sql.DB {
	return s.readDB
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes both connections.
func (s *Store) Close() error {
	var firstErr error
	if s.readDB != nil {
		if err := s.readDB.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
