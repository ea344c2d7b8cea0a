// Package migrations embeds the SQL schema migrations into the binary.
//
// Files follow YYYYMMDD_HHMMSS_description.up.sql / .down.sql and are
// applied by database.DB.Migrate.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed *.sql
var files embed.FS

// FS holds the migration files at its root.
var FS fs.FS = files
