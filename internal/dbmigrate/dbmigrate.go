// Package dbmigrate applies the embedded schema migrations.
package dbmigrate

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/nextlevelbuilder/chatqueue/migrations"
)

// NewPostgres returns a migrator for the Postgres queue and session tables.
func NewPostgres(dsn string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.Postgres(), ".")
	if err != nil {
		return nil, fmt.Errorf("open postgres migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// NewSQLite returns a migrator for the SQLite session database at path.
func NewSQLite(path string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.SQLite(), ".")
	if err != nil {
		return nil, fmt.Errorf("open sqlite migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite://"+path)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// Up applies all pending migrations and closes the migrator.
func Up(m *migrate.Migrate) (uint, error) {
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migrate up: %w", err)
	}
	v, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("migration version: %w", err)
	}
	if dirty {
		return v, fmt.Errorf("schema version %d is dirty; fix manually and run migrate force", v)
	}
	return v, nil
}
