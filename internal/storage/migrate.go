package storage

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrator applies the Postgres schema in migrations/postgres
type Migrator struct {
	databaseURL string
	sourceURL   string
}

// NewMigrator creates a migrator for the given database and migrations directory
func NewMigrator(databaseURL, migrationsPath string) *Migrator {
	return &Migrator{
		databaseURL: databaseURL,
		sourceURL:   fmt.Sprintf("file://%s", migrationsPath),
	}
}

func (m *Migrator) with(fn func(*migrate.Migrate) error) error {
	mg, err := migrate.New(m.sourceURL, m.databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		_, _ = mg.Close() // nolint:errcheck // cleanup in defer
	}()
	return fn(mg)
}

// Up applies every pending migration
func (m *Migrator) Up() error {
	return m.with(func(mg *migrate.Migrate) error {
		if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		return nil
	})
}

// Down rolls back the last migration
func (m *Migrator) Down() error {
	return m.with(func(mg *migrate.Migrate) error {
		if err := mg.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}
		return nil
	})
}

// Version returns the applied migration version
func (m *Migrator) Version() (version uint, dirty bool, err error) {
	err = m.with(func(mg *migrate.Migrate) error {
		var verr error
		version, dirty, verr = mg.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			return fmt.Errorf("failed to get migration version: %w", verr)
		}
		return nil
	})
	return version, dirty, err
}
