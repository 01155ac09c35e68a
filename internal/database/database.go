// Package database opens and migrates the shared relational store.
// Both PostgreSQL (lib/pq) and SQLite (modernc.org/sqlite) are supported;
// dialect differences that matter for correctness are confined to the
// claim paths in urlstore and jobqueue, which consult Driver.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	_ "modernc.org/sqlite" // SQLite driver (CGO-free)
)

// Driver identifies the SQL backend in use.
type Driver string

// Supported drivers.
const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// pingTimeout bounds the connection test at open time.
const pingTimeout = 5 * time.Second

// pqUniqueViolation is the PostgreSQL error code for unique_violation.
const pqUniqueViolation = "23505"

// Config holds database connection settings.
type Config struct {
	// URL is either a postgres:// DSN or a SQLite file path
	// (use ":memory:" for an in-memory database).
	URL             string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB wraps sqlx.DB with the backend it was opened against.
type DB struct {
	*sqlx.DB
	Driver Driver
}

// Open connects to the database named by cfg.URL and verifies the
// connection. SQLite databases are opened with a single connection to
// serialize writers (immediate-transaction discipline).
func Open(cfg Config) (*DB, error) {
	driver := DetectDriver(cfg.URL)

	var (
		db  *sqlx.DB
		err error
	)

	switch driver {
	case DriverPostgres:
		db, err = sqlx.Open("postgres", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres database: %w", err)
		}
		db.SetMaxOpenConns(cfg.MaxConnections)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	case DriverSQLite:
		db, err = sqlx.Open("sqlite", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		// Single connection prevents SQLITE_BUSY between concurrent writers.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

	default:
		return nil, fmt.Errorf("unsupported database URL: %q", cfg.URL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", pingErr)
	}

	wrapped := &DB{DB: db, Driver: driver}

	if driver == DriverSQLite {
		if pragmaErr := wrapped.applySQLitePragmas(); pragmaErr != nil {
			_ = db.Close()
			return nil, pragmaErr
		}
	}

	return wrapped, nil
}

// DetectDriver infers the backend from the connection URL.
func DetectDriver(url string) Driver {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return DriverPostgres
	}
	return DriverSQLite
}

// SupportsSkipLocked reports whether the backend can exclude concurrently
// claimed rows with FOR UPDATE SKIP LOCKED.
func (d *DB) SupportsSkipLocked() bool {
	return d.Driver == DriverPostgres
}

// applySQLitePragmas configures WAL mode and busy handling.
func (d *DB) applySQLitePragmas() error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
	}

	for _, pragma := range pragmas {
		if _, err := d.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

// IsUniqueViolation reports whether err is a unique-constraint violation
// on either backend. Expected on dedupe_key collisions and concurrent adds.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqUniqueViolation
	}

	// modernc.org/sqlite reports constraint failures in the error text.
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
