package journal

import (
	"time"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Database stores connection audit data. It never holds device readings.
type Database interface {
	SaveAttempt(rec AttemptRecord) error
	SaveEvent(rec EventRecord) error
	LoadAttempts(limit int) ([]AttemptRecord, error)
	LoadEvents(limit int) ([]EventRecord, error)
	// Prune deletes rows older than before and reports how many went.
	Prune(before time.Time) (int64, error)

	Close() error
	Migrate() error
}

// AttemptRecord is one endpoint trial.
type AttemptRecord struct {
	ID           int64     `json:"id" db:"id"`
	Endpoint     string    `json:"endpoint" db:"endpoint"`
	URL          string    `json:"url" db:"url"`
	Index        int       `json:"index" db:"attempt_index"`
	Outcome      string    `json:"outcome" db:"outcome"`
	ErrorClass   string    `json:"error_class" db:"error_class"`
	ErrorMessage string    `json:"error,omitempty" db:"error_message"`
	DurationMs   int64     `json:"duration_ms" db:"duration_ms"`
	AttemptedAt  time.Time `json:"attempted_at" db:"attempted_at"`
}

// EventRecord is one lifecycle event seen by the handle's observer.
type EventRecord struct {
	ID           int64     `json:"id" db:"id"`
	Kind         string    `json:"kind" db:"kind"`
	Endpoint     string    `json:"endpoint,omitempty" db:"endpoint"`
	Attempt      int       `json:"attempt,omitempty" db:"attempt"`
	ErrorClass   string    `json:"error_class" db:"error_class"`
	ErrorMessage string    `json:"error,omitempty" db:"error_message"`
	OccurredAt   time.Time `json:"occurred_at" db:"occurred_at"`
}
