package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"

	"github.com/koopa0/kioku/internal/config"
	"github.com/koopa0/kioku/internal/database"
	"github.com/koopa0/kioku/internal/embedding"
	"github.com/koopa0/kioku/internal/ingest"
	"github.com/koopa0/kioku/internal/knowledge"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	a := &App{Config: cfg}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				slog.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	db, err := provideDatabase(cfg)
	if err != nil {
		return nil, err
	}
	a.DB = db

	g, err := provideGenkit(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	base, err := provideBase(ctx, cfg, db, embedder)
	if err != nil {
		return nil, err
	}
	a.Base = base

	a.Ingestor = ingest.New(base, slog.Default(),
		ingest.WithChunker(embedding.NewChunker(cfg.ChunkSize)))

	// Set up lifecycle management
	appCtx, cancel := context.WithCancel(ctx)
	a.ctx = appCtx
	a.cancel = cancel

	return a, nil
}

// provideDatabase opens the SQLite database and applies migrations.
func provideDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return db, nil
}

// provideGenkit initializes Genkit with the configured AI provider plugin.
// Supports gemini (default), ollama, and openai providers.
func provideGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit embedder registration (no auto-discovery)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		slog.Info("initialized Genkit with ollama provider",
			"embedder", cfg.EmbedderModel, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		slog.Info("initialized Genkit with openai provider", "embedder", cfg.EmbedderModel)

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		slog.Info("initialized Genkit with gemini provider", "embedder", cfg.EmbedderModel)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the AI provider plugin.
// Each provider registers embedders differently:
//   - gemini: GoogleAIEmbedder(g, modelName)
//   - ollama: registered in provideGenkit, keyed by server address
//   - openai: auto-registered in Init(), looked up by model name
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default: // gemini
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideBase wraps the embedder in a dimension-checked model and builds
// the knowledge base on top of it.
func provideBase(ctx context.Context, cfg *config.Config, db *sql.DB, embedder ai.Embedder) (*knowledge.Base, error) {
	model, err := embedding.NewModel(embedder, cfg.EmbedderModel, cfg.EmbedderDims)
	if err != nil {
		return nil, fmt.Errorf("creating embedding model: %w", err)
	}

	opts := []embedding.Option{
		embedding.WithBatchSize(cfg.EmbedBatchSize),
		embedding.WithConcurrency(cfg.EmbedWorkers),
	}
	if cfg.EmbedRPM > 0 {
		opts = append(opts, embedding.WithRateLimit(cfg.EmbedRPM))
	}

	base, err := knowledge.New(ctx, db, model, slog.Default(), opts...)
	if err != nil {
		return nil, fmt.Errorf("creating knowledge base: %w", err)
	}
	return base, nil
}
