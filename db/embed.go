// Package db provides the embedded database schema and seed catalog.
package db

import _ "embed"

// Schema contains the DDL statements for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// SeedCatalog is the default catalog used by the seed-db command.
//
//go:embed seed/catalog.json
var SeedCatalog []byte
