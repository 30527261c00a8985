// Package migrations carries the schema migrations for the investigation
// and account tables, embedded so the server can apply them at startup
// regardless of working directory.
package migrations

import "embed"

// FS holds every .sql file in this directory, applied in lexical order
// (001_investigations.sql, 002_accounts.sql, ...).
//
//go:embed *.sql
var FS embed.FS
