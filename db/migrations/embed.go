// Package dbmigrations exposes embedded SQL migrations for quorum binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into quorum binaries.
//
//go:embed *.sql
var Files embed.FS
