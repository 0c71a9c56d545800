// Package migrations embeds the SQL schema for the Postgres and SQLite
// backends so binaries need no migrations directory at runtime.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed postgres/*.sql
var postgresFS embed.FS

//go:embed sqlite/*.sql
var sqliteFS embed.FS

// Postgres returns the Postgres migration files rooted at their directory.
func Postgres() fs.FS {
	sub, _ := fs.Sub(postgresFS, "postgres")
	return sub
}

// SQLite returns the SQLite migration files rooted at their directory.
func SQLite() fs.FS {
	sub, _ := fs.Sub(sqliteFS, "sqlite")
	return sub
}
