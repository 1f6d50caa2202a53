// Package database provides the SQLite store used by sqlite outputs and
// the records API.
//
// Open creates the file with owner-only permissions, optionally in WAL
// mode so the API can read while outputs write. The schema is applied by
// Migrate from the files the migrations package embeds:
//
//	db, err := database.Open(database.FromConfig(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are forward-only files named
// YYYYMMDD_HHMMSS_description.up.sql. Each runs in its own transaction
// and is recorded in schema_migrations. Changes must be additive: new
// columns are NULLABLE or carry a DEFAULT.
package database
