// Package migrations embeds the SQLite schema migrations.
package migrations

import "embed"

// FS holds NNN_name.up.sql files, applied in version order.
//
//go:embed *.sql
var FS embed.FS
