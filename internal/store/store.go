package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lushonline/moodle-mod-externalcontent/internal/lrs"
)

// Store is the SQLite-backed directory, ledger, event log and settings.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Init applies the schema. It is safe to call on every start.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS courses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			idnumber TEXT NOT NULL DEFAULT '',
			shortname TEXT NOT NULL,
			fullname TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS modules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			course_id INTEGER NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
			idnumber TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			modname TEXT NOT NULL,
			completion_externally INTEGER NOT NULL DEFAULT 0,
			completion_tracking INTEGER NOT NULL DEFAULT 0,
			UNIQUE(modname, idnumber)
		);`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE
		);`,
		`CREATE TABLE IF NOT EXISTS enrolments (
			course_id INTEGER NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			time_created INTEGER NOT NULL,
			PRIMARY KEY(course_id, user_id)
		);`,
		`CREATE TABLE IF NOT EXISTS tracks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			module_id INTEGER NOT NULL REFERENCES modules(id) ON DELETE CASCADE,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			completed INTEGER NOT NULL DEFAULT 0,
			score REAL,
			time_modified INTEGER NOT NULL,
			UNIQUE(module_id, user_id)
		);`,
		`CREATE TABLE IF NOT EXISTS completion_states (
			module_id INTEGER NOT NULL REFERENCES modules(id) ON DELETE CASCADE,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			viewed INTEGER NOT NULL DEFAULT 0,
			completion_state INTEGER NOT NULL DEFAULT 0,
			time_modified INTEGER NOT NULL,
			PRIMARY KEY(module_id, user_id)
		);`,
		`CREATE TABLE IF NOT EXISTS grades (
			module_id INTEGER NOT NULL REFERENCES modules(id) ON DELETE CASCADE,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			grade REAL NOT NULL,
			time_modified INTEGER NOT NULL,
			PRIMARY KEY(module_id, user_id)
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			course_id INTEGER NOT NULL,
			module_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			statement_id TEXT,
			extra TEXT,
			time_created INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_module ON events(module_id, time_created DESC);`,
		`CREATE TABLE IF NOT EXISTS settings (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply lrs schema: %w", err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

var (
	_ lrs.Directory = (*Store)(nil)
	_ lrs.Ledger    = (*Store)(nil)
)
