// Package store implements the relational persistence layer on database/sql.
// It supports SQLite (modernc, pure Go) and PostgreSQL (lib/pq) through the
// same $N placeholder SQL; timestamps are persisted as RFC 3339 text so both
// drivers round-trip them identically.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DriverSQLite and DriverPostgres are the supported driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store wraps a sql.DB with dialect awareness.
type Store struct {
	db     *sql.DB
	driver string
}

// Open opens a database handle and wraps it. The caller owns the lifecycle
// and should Close the store when done.
func Open(driver, dsn string) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	return New(db, driver), nil
}

// New wraps an existing handle. Used by tests that inject sqlmock or an
// in-memory sqlite database.
func New(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) serial() string {
	if s.driver == DriverPostgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS packages (
			id ` + s.serial() + `,
			name TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS asset_groups (
			id ` + s.serial() + `,
			package_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS systems (
			id ` + s.serial() + `,
			package_id BIGINT NOT NULL,
			group_id BIGINT,
			name TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS controls (
			control_id TEXT PRIMARY KEY,
			family TEXT NOT NULL,
			name TEXT NOT NULL,
			control_text TEXT NOT NULL DEFAULT '',
			discussion TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS ccis (
			cci TEXT NOT NULL,
			control_id TEXT NOT NULL,
			definition TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (cci, control_id)
		)`,
		`CREATE TABLE IF NOT EXISTS control_relations (
			control_id TEXT NOT NULL,
			related_id TEXT NOT NULL,
			PRIMARY KEY (control_id, related_id)
		)`,
		`CREATE TABLE IF NOT EXISTS catalog_revisions (
			id TEXT PRIMARY KEY,
			version TEXT NOT NULL,
			digest TEXT NOT NULL,
			controls INTEGER NOT NULL,
			imported_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scans (
			id ` + s.serial() + `,
			system_id BIGINT NOT NULL,
			title TEXT NOT NULL,
			checklist_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS findings (
			id ` + s.serial() + `,
			scan_id BIGINT NOT NULL,
			system_id BIGINT NOT NULL,
			rule_id TEXT NOT NULL,
			cci TEXT NOT NULL DEFAULT '',
			severity TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'Not_Reviewed',
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			last_seen TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reports (
			id ` + s.serial() + `,
			uuid TEXT NOT NULL,
			package_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			scan_date TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS hosts (
			id ` + s.serial() + `,
			report_id BIGINT NOT NULL,
			system_id BIGINT,
			ip TEXT NOT NULL,
			hostname TEXT NOT NULL DEFAULT '',
			os TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS vulnerabilities (
			id ` + s.serial() + `,
			report_id BIGINT NOT NULL,
			host_id BIGINT NOT NULL,
			plugin_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			severity TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			cvss REAL NOT NULL DEFAULT 0,
			port INTEGER NOT NULL DEFAULT 0,
			protocol TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			last_seen TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS baseline_entries (
			id ` + s.serial() + `,
			package_id BIGINT NOT NULL,
			control_id TEXT NOT NULL,
			include_in_baseline BOOLEAN NOT NULL DEFAULT FALSE,
			baseline_source TEXT NOT NULL DEFAULT 'catalog',
			tailoring_action TEXT NOT NULL DEFAULT '',
			tailoring_rationale TEXT NOT NULL DEFAULT '',
			implementation_status TEXT NOT NULL DEFAULT 'Not_Implemented',
			implementation_notes TEXT NOT NULL DEFAULT '',
			compliance_status TEXT NOT NULL DEFAULT 'NOT_ASSESSED',
			compliance_notes TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL,
			UNIQUE (package_id, control_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_findings_system ON findings (system_id)`,
		`CREATE INDEX IF NOT EXISTS idx_findings_scan ON findings (scan_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ccis_cci ON ccis (cci)`,
		`CREATE INDEX IF NOT EXISTS idx_baseline_package ON baseline_entries (package_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// NotFoundError reports ordinary absence of an entity. It carries the entity
// type and id and maps to a 404-equivalent signal at the boundary.
type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %v not found", e.Entity, e.ID)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func notFound(entity string, id any) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

func scanNullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
