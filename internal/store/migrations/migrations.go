// Package migrations embeds the SQL schema migrations applied at store open.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
