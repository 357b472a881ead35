// Package migrations embeds the SQL schema migrations so both binaries
// and the test helpers apply the same schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
