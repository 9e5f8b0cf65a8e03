package journal

//go:generate go run ../../cmd/migrate-gen -dir migrations

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Generated from migrations/*.sql.template by cmd/migrate-gen.
//
//go:embed migrations
var migrationFS embed.FS

// runMigrations applies every pending up migration for dbType from the
// embedded tree.
func runMigrations(dbType string, driver database.Driver) error {
	src, err := iofs.New(migrationFS, "migrations/"+dbType)
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dbType, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
