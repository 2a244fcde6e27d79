// Package migrations embeds the SQLite schema so the binary carries it.
package migrations

import "embed"

// FS holds every *.up.sql file in this directory.
//
//go:embed *.up.sql
var FS embed.FS
