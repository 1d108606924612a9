package migrations

import "embed"

// FS embeds the SQL migration scripts run by Run on every DB open.
//
//go:embed scripts/*.sql
var FS embed.FS
