// Package migrations embeds the versioned SQL schema so the API binary can migrate on startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
