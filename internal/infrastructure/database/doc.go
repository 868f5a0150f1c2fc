// Package database provides SQLite connectivity for PlaySEM Core.
//
// It opens the database with foreign keys enforced and optional WAL mode,
// and applies the embedded schema migrations. The device registry persists
// device descriptors and groups here; connection state is never stored.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql, and are additive only: new columns must be nullable
// or carry a default.
package database
