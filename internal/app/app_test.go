package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/koopa0/kioku/internal/config"
)

func TestAppClose(t *testing.T) {
	tests := []struct {
		name     string
		setupApp func(t *testing.T) *App
	}{
		{
			name:     "empty app",
			setupApp: func(t *testing.T) *App { return &App{} },
		},
		{
			name: "cancel only",
			setupApp: func(t *testing.T) *App {
				return &App{cancel: func() {}}
			},
		},
		{
			name: "context and cancel",
			setupApp: func(t *testing.T) *App {
				ctx, cancel := context.WithCancel(context.Background())
				return &App{ctx: ctx, cancel: cancel}
			},
		},
		{
			name: "with database",
			setupApp: func(t *testing.T) *App {
				cfg := &config.Config{DBPath: filepath.Join(t.TempDir(), "kioku.db")}
				db, err := provideDatabase(cfg)
				if err != nil {
					t.Fatalf("provideDatabase() unexpected error: %v", err)
				}
				return &App{DB: db}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := tt.setupApp(t)
			if err := app.Close(); err != nil {
				t.Errorf("Close() unexpected error: %v", err)
			}

			if app.cancel != nil && app.ctx != nil {
				select {
				case <-app.ctx.Done():
				default:
					t.Error("Close() did not cancel the app context")
				}
			}
		})
	}
}

func TestProvideDatabaseMigrates(t *testing.T) {
	cfg := &config.Config{DBPath: filepath.Join(t.TempDir(), "kioku.db")}

	db, err := provideDatabase(cfg)
	if err != nil {
		t.Fatalf("provideDatabase() unexpected error: %v", err)
	}
	defer func() { _ = db.Close() }()

	for _, table := range []string{"accounts", "channels"} {
		var name string
		err := db.QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q missing after migration: %v", table, err)
		}
	}
}

func TestProvideDatabaseBadPath(t *testing.T) {
	// A regular file where the parent directory should be makes the
	// directory creation fail.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("writing blocker file: %v", err)
	}

	cfg := &config.Config{DBPath: filepath.Join(blocker, "kioku.db")}
	if _, err := provideDatabase(cfg); err == nil {
		t.Fatal("provideDatabase() expected error for unusable path, got nil")
	}
}

func TestSetupBadDatabasePath(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("writing blocker file: %v", err)
	}

	cfg := &config.Config{
		Provider: config.ProviderGemini,
		DBPath:   filepath.Join(blocker, "kioku.db"),
	}
	app, err := Setup(context.Background(), cfg)
	if err == nil {
		_ = app.Close()
		t.Fatal("Setup() expected error for unusable database path, got nil")
	}
}

func TestSetupLifecycle(t *testing.T) {
	t.Run("setup and close with real provider", func(t *testing.T) {
		t.Skip("Skipping integration test that requires a configured AI provider")
	})
}
