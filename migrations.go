// Package feedhaven embeds the database migration files so the binary is
// self-contained.
package feedhaven

import "embed"

//go:embed migrations/*.sql
var MigrationsFS embed.FS
