package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/mattn/go-sqlite3"
)

type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

func NewSQLiteDatabase(dbPath string) (*SQLiteDatabase, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteDatabase{
		db:   db,
		path: dbPath,
	}, nil
}

func sqliteDSN(path string) string {
	return path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}

func (s *SQLiteDatabase) Migrate() error {
	// Separate connection: closing the migrate instance closes its database.
	migrationDB, err := sql.Open("sqlite3", sqliteDSN(s.path))
	if err != nil {
		return fmt.Errorf("failed to open migration database: %w", err)
	}
	defer migrationDB.Close()

	driver, err := sqlite3.WithInstance(migrationDB, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite3 driver: %w", err)
	}

	return runMigrations("sqlite", driver)
}

func (s *SQLiteDatabase) Close() error {
	return s.db.Close()
}

func (s *SQLiteDatabase) Path() string {
	return s.path
}

func (s *SQLiteDatabase) SaveAttempt(rec AttemptRecord) error {
	query := `
		INSERT INTO connection_attempts
			(endpoint, url, attempt_index, outcome, error_class, error_message, duration_ms, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		rec.Endpoint,
		rec.URL,
		rec.Index,
		rec.Outcome,
		rec.ErrorClass,
		rec.ErrorMessage,
		rec.DurationMs,
		rec.AttemptedAt.UTC(),
	)
	return err
}

func (s *SQLiteDatabase) SaveEvent(rec EventRecord) error {
	query := `
		INSERT INTO connection_events
			(kind, endpoint, attempt, error_class, error_message, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		rec.Kind,
		rec.Endpoint,
		rec.Attempt,
		rec.ErrorClass,
		rec.ErrorMessage,
		rec.OccurredAt.UTC(),
	)
	return err
}

func (s *SQLiteDatabase) LoadAttempts(limit int) ([]AttemptRecord, error) {
	query := `
		SELECT id, endpoint, url, attempt_index, outcome, error_class, error_message, duration_ms, attempted_at
		FROM connection_attempts
		ORDER BY attempted_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAttempts(rows)
}

func (s *SQLiteDatabase) LoadEvents(limit int) ([]EventRecord, error) {
	query := `
		SELECT id, kind, endpoint, attempt, error_class, error_message, occurred_at
		FROM connection_events
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *SQLiteDatabase) Prune(before time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var total int64
	for _, query := range []string{
		"DELETE FROM connection_attempts WHERE attempted_at < ?",
		"DELETE FROM connection_events WHERE occurred_at < ?",
	} {
		res, err := tx.Exec(query, before.UTC())
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		total += n
	}

	return total, tx.Commit()
}
