// Package journal records connection attempts and lifecycle events so an
// operator can see which endpoint a device used and why others failed.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/denwilliams/go-mqtt-homelink/pkg/config"
	"github.com/denwilliams/go-mqtt-homelink/pkg/metrics"
	"github.com/denwilliams/go-mqtt-homelink/pkg/mqtt"
	"github.com/sirupsen/logrus"
)

const defaultLimit = 100

// Manager implements mqtt.AttemptRecorder and mqtt.Observer on top of a
// Database. Write failures are logged and counted, never returned to the
// connection layer.
type Manager struct {
	db     Database
	dbType string
	logger *logrus.Logger
}

func NewManager(cfg config.DatabaseConfig, logger *logrus.Logger) (*Manager, error) {
	var db Database
	var err error

	switch cfg.Type {
	case "sqlite":
		db, err = NewSQLiteDatabase(cfg.Connection)
	case "postgres", "postgresql":
		db, err = NewPostgreSQLDatabase(cfg.Connection)
	default:
		err = fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	// Run migrations
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	manager := NewManagerWithDatabase(db, cfg.Type, logger)
	manager.logger.WithField("type", cfg.Type).Info("Connection journal initialized")
	return manager, nil
}

// NewManagerWithDatabase wraps an already migrated database.
func NewManagerWithDatabase(db Database, dbType string, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{db: db, dbType: dbType, logger: logger}
}

func (m *Manager) Close() error {
	return m.db.Close()
}

func (m *Manager) RecordAttempt(a mqtt.Attempt) {
	rec := AttemptRecord{
		Endpoint:    a.Endpoint.Name,
		URL:         a.Endpoint.URL(),
		Index:       a.Index,
		Outcome:     OutcomeSuccess,
		ErrorClass:  mqtt.ErrorClass(a.Err),
		DurationMs:  a.Duration.Milliseconds(),
		AttemptedAt: a.At,
	}
	if a.Err != nil {
		rec.Outcome = OutcomeFailure
		rec.ErrorMessage = a.Err.Error()
	}
	if rec.AttemptedAt.IsZero() {
		rec.AttemptedAt = time.Now()
	}

	if err := m.db.SaveAttempt(rec); err != nil {
		metrics.RecordJournalError("save_attempt")
		m.logger.WithError(err).WithField("endpoint", rec.Endpoint).Error("Failed to record connection attempt")
		return
	}
	metrics.RecordJournalWrite("connection_attempts")
}

// HandleMessage ignores device traffic; only lifecycle is journalled.
func (m *Manager) HandleMessage(mqtt.Message) {}

func (m *Manager) HandleEvent(ev mqtt.Event) {
	rec := EventRecord{
		Kind:       string(ev.Kind),
		Endpoint:   ev.Endpoint.Name,
		Attempt:    ev.Attempt,
		ErrorClass: mqtt.ErrorClass(ev.Err),
		OccurredAt: ev.At,
	}
	if ev.Err != nil {
		rec.ErrorMessage = ev.Err.Error()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now()
	}

	if err := m.db.SaveEvent(rec); err != nil {
		metrics.RecordJournalError("save_event")
		m.logger.WithError(err).WithField("event", rec.Kind).Error("Failed to record connection event")
		return
	}
	metrics.RecordJournalWrite("connection_events")
}

// RecentAttempts returns the newest attempts first.
func (m *Manager) RecentAttempts(limit int) ([]AttemptRecord, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	return m.db.LoadAttempts(limit)
}

// RecentEvents returns the newest events first.
func (m *Manager) RecentEvents(limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	return m.db.LoadEvents(limit)
}

// Prune removes journal rows older than days.
func (m *Manager) Prune(days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("invalid retention: %d days", days)
	}
	removed, err := m.db.Prune(time.Now().AddDate(0, 0, -days))
	if err != nil {
		metrics.RecordJournalError("prune")
		return 0, err
	}
	if removed > 0 {
		m.logger.WithField("rows", removed).Info("Pruned connection journal")
	}
	return removed, nil
}

func (m *Manager) Type() string {
	return m.dbType
}

func scanAttempts(rows *sql.Rows) ([]AttemptRecord, error) {
	var records []AttemptRecord
	for rows.Next() {
		var rec AttemptRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Endpoint,
			&rec.URL,
			&rec.Index,
			&rec.Outcome,
			&rec.ErrorClass,
			&rec.ErrorMessage,
			&rec.DurationMs,
			&rec.AttemptedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]EventRecord, error) {
	var records []EventRecord
	for rows.Next() {
		var rec EventRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Kind,
			&rec.Endpoint,
			&rec.Attempt,
			&rec.ErrorClass,
			&rec.ErrorMessage,
			&rec.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
