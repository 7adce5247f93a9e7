// Package migrations embeds the SQL migration files applied by cmd/migrate
// and by storage.NewMigrator in integration tests.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
