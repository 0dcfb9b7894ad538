// Package database provides SQLite connectivity for the Leviton bridge.
//
// This package manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - Forward and backward schema migrations from an fs.FS
//   - In-memory databases for tests
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
package database
