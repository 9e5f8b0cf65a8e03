package journal

import (
	"os"
	"testing"
	"time"

	"github.com/denwilliams/go-mqtt-homelink/pkg/mqtt"
)

// setupTestPostgreSQL connects to HOMELINK_TEST_POSTGRES or skips.
func setupTestPostgreSQL(t *testing.T) *PostgreSQLDatabase {
	t.Helper()
	dsn := os.Getenv("HOMELINK_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("PostgreSQL integration test - set HOMELINK_TEST_POSTGRES")
	}

	db, err := NewPostgreSQLDatabase(dsn)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("Failed to migrate PostgreSQL database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgreSQLDatabase_SaveAndLoadAttempts(t *testing.T) {
	db := setupTestPostgreSQL(t)
	m := NewManagerWithDatabase(db, "postgres", quietLogger())

	marker := time.Now().Add(time.Hour)
	m.RecordAttempt(mqtt.Attempt{Endpoint: testEndpoint, Index: 1, Err: mqtt.ErrTimeout, At: marker})

	attempts, err := m.RecentAttempts(1)
	if err != nil {
		t.Fatalf("RecentAttempts() error = %v", err)
	}
	if len(attempts) != 1 || attempts[0].ErrorClass != "timeout" {
		t.Errorf("attempts = %+v", attempts)
	}
}

func TestPostgreSQLDatabase_SaveAndLoadEvents(t *testing.T) {
	db := setupTestPostgreSQL(t)
	m := NewManagerWithDatabase(db, "postgres", quietLogger())

	m.HandleEvent(mqtt.Event{Kind: mqtt.EventExhausted, Err: mqtt.ErrTransport, At: time.Now().Add(time.Hour)})

	events, err := m.RecentEvents(1)
	if err != nil {
		t.Fatalf("RecentEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].Kind != "exhausted" {
		t.Errorf("events = %+v", events)
	}
}
