// Package migrations holds the goose SQL migrations for the fetch log.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
