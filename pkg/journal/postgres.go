package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/lib/pq"
)

type PostgreSQLDatabase struct {
	db  *sql.DB
	dsn string
}

func NewPostgreSQLDatabase(dsn string) (*PostgreSQLDatabase, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Journal writes are small and infrequent
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgreSQLDatabase{
		db:  db,
		dsn: dsn,
	}, nil
}

func (p *PostgreSQLDatabase) Migrate() error {
	// Separate connection: closing the migrate instance closes its database.
	migrationDB, err := sql.Open("postgres", p.dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration database: %w", err)
	}
	defer migrationDB.Close()

	driver, err := postgres.WithInstance(migrationDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	return runMigrations("postgres", driver)
}

func (p *PostgreSQLDatabase) Close() error {
	return p.db.Close()
}

func (p *PostgreSQLDatabase) SaveAttempt(rec AttemptRecord) error {
	query := `
		INSERT INTO connection_attempts
			(endpoint, url, attempt_index, outcome, error_class, error_message, duration_ms, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := p.db.Exec(query,
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

func (p *PostgreSQLDatabase) SaveEvent(rec EventRecord) error {
	query := `
		INSERT INTO connection_events
			(kind, endpoint, attempt, error_class, error_message, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := p.db.Exec(query,
		rec.Kind,
		rec.Endpoint,
		rec.Attempt,
		rec.ErrorClass,
		rec.ErrorMessage,
		rec.OccurredAt.UTC(),
	)
	return err
}

func (p *PostgreSQLDatabase) LoadAttempts(limit int) ([]AttemptRecord, error) {
	query := `
		SELECT id, endpoint, url, attempt_index, outcome, error_class, error_message, duration_ms, attempted_at
		FROM connection_attempts
		ORDER BY attempted_at DESC, id DESC
		LIMIT $1
	`

	rows, err := p.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAttempts(rows)
}

func (p *PostgreSQLDatabase) LoadEvents(limit int) ([]EventRecord, error) {
	query := `
		SELECT id, kind, endpoint, attempt, error_class, error_message, occurred_at
		FROM connection_events
		ORDER BY occurred_at DESC, id DESC
		LIMIT $1
	`

	rows, err := p.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (p *PostgreSQLDatabase) Prune(before time.Time) (int64, error) {
	tx, err := p.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var total int64
	for _, query := range []string{
		"DELETE FROM connection_attempts WHERE attempted_at < $1",
		"DELETE FROM connection_events WHERE occurred_at < $1",
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
