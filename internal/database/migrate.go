package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Migrate applies all pending schema migrations for the active backend.
// Running against an up-to-date database is a no-op.
func (d *DB) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations/"+string(d.Driver))
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	var dbDriver migratedb.Driver

	switch d.Driver {
	case DriverPostgres:
		dbDriver, err = postgres.WithInstance(d.DB.DB, &postgres.Config{})
	case DriverSQLite:
		dbDriver, err = sqlite.WithInstance(d.DB.DB, &sqlite.Config{})
	default:
		return fmt.Errorf("no migrations for driver %q", d.Driver)
	}
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(d.Driver), dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if upErr := m.Up(); upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", upErr)
	}

	return nil
}
