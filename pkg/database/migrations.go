package database

import (
	stdsql "database/sql"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql
)

// RunMigrations applies all pending migrations using golang-migrate with the
// SQL files embedded into the binary, so production deployments need no
// external migration files.
func RunMigrations(cfg Config) error {
	return MigrateDSN(cfg.DSN(), cfg.Database)
}

// MigrateDSN applies migrations against an explicit connection string. Tests
// use this with per-test schema search paths.
func MigrateDSN(dsn, dbName string) error {
	// golang-migrate drives a database/sql connection; the pgxpool used for
	// serving traffic stays untouched.
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer func() { _ = db.Close() }()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, dbName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the source driver; m.Close() would also close the database
	// driver and with it the *sql.DB before deferred cleanup runs it again.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}

	return nil
}
