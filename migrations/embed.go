// Package migrations ships the SQL schema with the binary.
package migrations

import "embed"

// FS holds the numbered NNN_name.sql migration files
//
//go:embed *.sql
var FS embed.FS
