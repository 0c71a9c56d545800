package dbmigrate

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
)

// Schema versions this binary expects; bump with every new migration file.
const (
	PostgresSchemaVersion uint = 2
	SQLiteSchemaVersion   uint = 1
)

// SchemaStatus represents the result of a schema compatibility check.
type SchemaStatus struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	Compatible      bool
	NeedsMigration  bool
}

// Status reads the applied version from m and compares it with required.
// A database with no migrations applied needs migration.
func Status(m *migrate.Migrate, required uint) (*SchemaStatus, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return &SchemaStatus{RequiredVersion: required, NeedsMigration: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration version: %w", err)
	}
	return compare(v, dirty, required), nil
}

func compare(current uint, dirty bool, required uint) *SchemaStatus {
	s := &SchemaStatus{
		CurrentVersion:  current,
		RequiredVersion: required,
		Dirty:           dirty,
	}
	if dirty {
		return s
	}
	switch {
	case current == required:
		s.Compatible = true
	case current < required:
		s.NeedsMigration = true
	default:
		// Schema is ahead: binary is too old.
	}
	return s
}

// Describe returns a one-line operator hint for s.
func (s *SchemaStatus) Describe() string {
	switch {
	case s.Dirty:
		return fmt.Sprintf("v%d (DIRTY, run: chatqueue migrate force %d)", s.CurrentVersion, s.CurrentVersion-1)
	case s.Compatible:
		return fmt.Sprintf("v%d (up to date)", s.CurrentVersion)
	case s.CurrentVersion > s.RequiredVersion:
		return fmt.Sprintf("v%d (binary too old, requires v%d)", s.CurrentVersion, s.RequiredVersion)
	default:
		return fmt.Sprintf("v%d (needs v%d, run: chatqueue migrate up)", s.CurrentVersion, s.RequiredVersion)
	}
}
