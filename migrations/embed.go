// Package migrations embeds the tenant schema migrations so the server
// binary can create and upgrade clinic schemas without a migrations directory.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
