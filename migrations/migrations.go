// Package migrations carries the facility schema migrations in the binary.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
