package database

import "errors"

// Sentinel errors for database operations.
var (
	// ErrNoPath is returned by Open when the configured path is empty.
	ErrNoPath = errors.New("database: path is empty")

	// ErrMigration wraps a failed schema migration.
	ErrMigration = errors.New("database: migration failed")
)
