package dbmigrate

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name       string
		current    uint
		dirty      bool
		compatible bool
		needs      bool
		describe   string
	}{
		{"up to date", 2, false, true, false, "v2 (up to date)"},
		{"behind", 1, false, false, true, "v1 (needs v2, run: chatqueue migrate up)"},
		{"ahead", 3, false, false, false, "v3 (binary too old, requires v2)"},
		{"dirty", 2, true, false, false, "v2 (DIRTY, run: chatqueue migrate force 1)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := compare(tt.current, tt.dirty, 2)
			assert.Equal(t, tt.compatible, s.Compatible)
			assert.Equal(t, tt.needs, s.NeedsMigration)
			assert.Equal(t, tt.describe, s.Describe())
		})
	}
}

func TestSQLite_UpAndStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")

	m, err := NewSQLite(path)
	require.NoError(t, err)
	s, err := Status(m, SQLiteSchemaVersion)
	require.NoError(t, err)
	assert.True(t, s.NeedsMigration)
	m.Close()

	m, err = NewSQLite(path)
	require.NoError(t, err)
	v, err := Up(m)
	require.NoError(t, err)
	assert.Equal(t, SQLiteSchemaVersion, v)

	// Up is idempotent.
	m, err = NewSQLite(path)
	require.NoError(t, err)
	_, err = Up(m)
	require.NoError(t, err)

	m, err = NewSQLite(path)
	require.NoError(t, err)
	defer m.Close()
	s, err = Status(m, SQLiteSchemaVersion)
	require.NoError(t, err)
	assert.True(t, s.Compatible)
}
