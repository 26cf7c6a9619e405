package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goodtune/keytrack/internal/storage"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store implements storage.Store on a local SQLite database.
type Store struct {
	db       *sql.DB
	stats    *statsStore
	sessions *sessionStore
}

// Open creates a new database connection and runs migrations.
func Open(path string, busyTimeoutMS int) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, busyTimeoutMS)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite limitation
	db.SetMaxIdleConns(1)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{
		db:       db,
		stats:    &statsStore{db: db},
		sessions: &sessionStore{db: db},
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Stats returns the StatsStore implementation.
func (s *Store) Stats() storage.StatsStore {
	return s.stats
}

// Sessions returns the SessionStore implementation.
func (s *Store) Sessions() storage.SessionStore {
	return s.sessions
}

// classify maps SQLite lock contention onto storage.ErrBusy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xFF {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", storage.ErrBusy, err)
		}
	}
	if strings.Contains(err.Error(), "database is locked") {
		return fmt.Errorf("%w: %v", storage.ErrBusy, err)
	}
	return err
}

// runMigrations applies all database migrations
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for version, migration := range migrations {
		version++
		if version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(migration); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", version, err)
		}
	}

	return nil
}

// migrations are applied in slice order; version is index+1.
var migrations = []string{
	migration001DailyStats,
	migration002HourlyStats,
	migration003NoteStats,
	migration004PracticeSessions,
}

const migration001DailyStats = `
CREATE TABLE IF NOT EXISTS daily_stats (
	date TEXT PRIMARY KEY,
	notes INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	velocity_sum INTEGER NOT NULL DEFAULT 0,
	energy REAL NOT NULL DEFAULT 0,
	pedal_presses INTEGER NOT NULL DEFAULT 0,
	note_bytes INTEGER NOT NULL DEFAULT 0,
	other_bytes INTEGER NOT NULL DEFAULT 0,
	session_seconds REAL NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const migration002HourlyStats = `
CREATE TABLE IF NOT EXISTS hourly_stats (
	date TEXT NOT NULL,
	hour INTEGER NOT NULL,
	notes INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	velocity_sum INTEGER NOT NULL DEFAULT 0,
	energy REAL NOT NULL DEFAULT 0,
	pedal_presses INTEGER NOT NULL DEFAULT 0,
	note_bytes INTEGER NOT NULL DEFAULT 0,
	other_bytes INTEGER NOT NULL DEFAULT 0,
	session_seconds REAL NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (date, hour)
);
`

const migration003NoteStats = `
CREATE TABLE IF NOT EXISTS note_stats (
	date TEXT NOT NULL,
	note INTEGER NOT NULL, -- 0-127, -1 pedal, -2 pitch bend
	count INTEGER NOT NULL DEFAULT 0,
	velocity_sum INTEGER NOT NULL DEFAULT 0,
	energy REAL NOT NULL DEFAULT 0,
	bytes INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, note)
);
`

const migration004PracticeSessions = `
CREATE TABLE IF NOT EXISTS practice_sessions (
	id TEXT PRIMARY KEY,
	date TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	ended_at DATETIME NOT NULL,
	seconds REAL NOT NULL DEFAULT 0
);

CREATE INDEX idx_practice_sessions_date ON practice_sessions(date);
CREATE INDEX idx_practice_sessions_started ON practice_sessions(started_at);
`
