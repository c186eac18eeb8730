// Package migrations embeds the SQLite schema migrations.
package migrations

import "embed"

// FS holds the numbered migration files (001_name.sql, ...)
//
//go:embed *.sql
var FS embed.FS
