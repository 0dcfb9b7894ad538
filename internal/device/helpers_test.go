package device

import (
	"context"
	"database/sql"
	"testing"

	"github.com/nerrad567/leviton-bridge/internal/infrastructure/database"
	"github.com/nerrad567/leviton-bridge/migrations"
)

// setupTestDB opens a migrated in-memory database.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db.DB
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }
