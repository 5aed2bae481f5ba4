// Package app provides application initialization and dependency wiring.
//
// App is the container that holds every long-lived component: Genkit, the
// embedder, the SQLite database, the knowledge base and the ingestor.
// Setup builds them in dependency order and Close releases them.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/koopa0/kioku/internal/config"
	"github.com/koopa0/kioku/internal/ingest"
	"github.com/koopa0/kioku/internal/knowledge"
)

// App is the core application container.
type App struct {
	Config *config.Config

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DB       *sql.DB
	Base     *knowledge.Base
	Ingestor *ingest.Ingestor

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	slog.Info("shutting down application")

	if a.cancel != nil {
		a.cancel()
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			return fmt.Errorf("closing database: %w", err)
		}
		slog.Debug("database closed")
	}

	return nil
}
