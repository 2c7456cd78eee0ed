package migrations

import "embed"

// FS contains embedded SQLite migrations for incident storage.
//
//go:embed *.sql
var FS embed.FS
