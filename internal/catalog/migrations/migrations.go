// Package migrations embeds the SQL migrations for the Postgres catalog.
package migrations

import "embed"

// Migrations holds the embedded SQL migration files applied by goose.
//
//go:embed *.sql
var Migrations embed.FS
