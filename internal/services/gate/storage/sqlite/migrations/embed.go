package migrations

import "embed"

// FS contains embedded SQLite migrations for gate storage.
//
//go:embed *.sql
var FS embed.FS
