// Package migrations embeds the SQL schema so both the migration script and
// the integration tests apply the same files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
