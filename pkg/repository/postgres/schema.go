package postgres

import _ "embed"

// Schema is the DDL the repository expects. It is shipped for operators and tests; the binary never applies it.
//
//go:embed schema.sql
var Schema string
