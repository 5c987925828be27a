// Package migrations embeds the goose SQL migration files applied by postgres.Migrate. Keeping the embed in its own
// package (rather than embedding directly from internal/postgres) lets goose's file-discovery walk a directory that
// contains nothing but migration files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
