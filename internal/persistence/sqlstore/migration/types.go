// Package migration applies versioned SQL migration files to a database and
// records them in a schema_migrations table.
//
// Migration files are named {version}_{description}.sql, where version is
// numeric (001, 002, ...). Files are read from an fs.FS so that migrations can
// be embedded into the binary.
package migration

import "time"

// Migration is a single versioned migration file.
type Migration struct {
	Version     string
	Description string
	SQL         string
	FilePath    string
	Checksum    string
}

// AppliedMigration is a migration recorded in schema_migrations.
type AppliedMigration struct {
	Version       string
	AppliedAt     time.Time
	ExecutionTime time.Duration
	Checksum      string
}

// Status summarizes the migration state of a database.
type Status struct {
	CurrentVersion string
	Applied        []AppliedMigration
	Pending        []Migration
}
