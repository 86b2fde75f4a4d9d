package cache

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// schemaSuffix is bumped whenever the on-disk layout changes in a way the
// migration ladder can (or deliberately cannot) bridge. The ladder in
// migrator.go patches one suffix step at a time.
const schemaSuffix = "6"

// schemaHash identifies the schema lineage. It is derived from the base
// schema text, so an edit to the base layout that bypasses the ladder makes
// every existing cache incompatible.
var schemaHash = func() string {
	raw, err := migrationFS.ReadFile("migrations/0001_base.sql")
	if err != nil {
		panic("cache: base schema missing: " + err.Error())
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:4])
}()

// SchemaVersion is the full identity of the current schema, stored in
// vars('schema_version') as "<hash>_<suffix>".
func SchemaVersion() string {
	return schemaHash + "_" + schemaSuffix
}

// SchemaVersionAt returns the version string for an older suffix of the same
// lineage. Used by the migrator and by tests building legacy caches.
func SchemaVersionAt(suffix string) string {
	return schemaHash + "_" + suffix
}
