// Package migrations embeds the audit schema's forward-only migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Path is the directory the migration source reads from within FS.
const Path = "."
