// Package sqlite provides the reference store-backed persister: a
// persist.Persister over a SQLite database, driven entirely by
// compiled entity mappings. Updates carry an optimistic version
// predicate; a write that matches no row surfaces as a stale-state
// error.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/siltdb/silt/internal/mapping"
	"github.com/siltdb/silt/internal/meta"
)

// Store wraps a SQLite database handle configured for single-writer
// use. WAL mode keeps readers unblocked during writes.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas automatically; idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// EnsureTable creates the table for a mapped entity if it does not
// exist. Collection properties have no column; they live wherever the
// element entities live.
func (s *Store) EnsureTable(ctx context.Context, m *mapping.EntityMapping) error {
	cols := []string{fmt.Sprintf("%s %s PRIMARY KEY", m.ID.Column, sqliteType(m.ID.Type))}
	for _, p := range m.Properties {
		if p.Column == "" {
			continue
		}
		cols = append(cols, fmt.Sprintf("%s %s", p.Column, sqliteType(p.Type)))
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", m.Table, strings.Join(cols, ", "))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", m.Table, err)
	}
	return nil
}

// sqliteType maps a property type onto a SQLite column affinity.
func sqliteType(t meta.Type) string {
	switch t.(type) {
	case meta.Int64Type, meta.BoolType:
		return "INTEGER"
	case meta.BytesType:
		return "BLOB"
	default:
		// Strings, times (RFC 3339), and entity references (their
		// identifier rendered as text) all store as TEXT.
		return "TEXT"
	}
}
