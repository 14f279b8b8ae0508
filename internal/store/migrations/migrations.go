// Package migrations embeds the mirror schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
