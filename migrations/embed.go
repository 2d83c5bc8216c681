// Package migrations embeds the SQL schema files so binaries and tests can
// apply them regardless of working directory.
package migrations

import "embed"

// FS holds the .sql files of this directory, applied in name order.
//
//go:embed *.sql
var FS embed.FS
