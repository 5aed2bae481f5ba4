package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/koopa0/kioku/internal/database"
)

// OpenDB opens a fresh migrated database in a per-test temp directory.
// The handle is closed automatically when the test finishes.
func OpenDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "kioku.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	return db
}
