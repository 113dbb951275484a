// Package migrations carries the schema migration files, compiled into the
// binary so deployments and tests never depend on a migrations directory on
// disk.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
