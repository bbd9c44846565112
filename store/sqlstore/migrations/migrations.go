// Package migrations embeds the per-dialect schema for sqlstore.
package migrations

import "embed"

//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
