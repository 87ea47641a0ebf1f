// Package db embeds the cart service schema.
package db

import _ "embed"

// Schema creates the catalog, cart and API key tables. Every statement is
// idempotent so it runs on each start.
//
//go:embed migrations/001_schema.sql
var Schema string
