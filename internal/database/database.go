// Package database opens and migrates the application's SQLite database.
//
// Every connection loads the sqlite-vec extension, and the pool is capped
// at a single open connection, so all callers share one logical connection
// and SQLite serializes their statements. Schema for the dimension tables
// lives in embedded migrations; the vector stores bootstrap their own
// tables idempotently on open.
package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open opens the SQLite database at dbPath, creating the parent directory
// when missing. It fails if the sqlite-vec extension cannot be loaded.
func Open(dbPath string) (*sql.DB, error) {
	// Ensure parent directory exists (using stricter permissions)
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Register sqlite-vec for every connection the driver opens from
	// here on.
	sqlite_vec.Auto()

	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_synchronous=NORMAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One open connection: WAL gives readers concurrency at the file
	// level, but this process funnels all statements through a single
	// logical connection.
	db.SetMaxOpenConns(1)

	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite-vec extension unavailable: %w", err)
	}

	return db, nil
}

// Migrate applies all pending embedded migrations.
func Migrate(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migrate driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// Note: Don't defer m.Close() because sqlite3 WithInstance doesn't take
	// over the DB connection but Close() might affect its state.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}
