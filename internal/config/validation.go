package config

import (
	"fmt"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider validation
	validProviders := []string{ProviderGemini, ProviderOllama, ProviderOpenAI}
	if !slices.Contains(validProviders, c.Provider) {
		return fmt.Errorf("%w: %q (supported: gemini, ollama, openai)", ErrInvalidProvider, c.Provider)
	}

	// 2. API key validation, keyed by provider
	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required", ErrMissingAPIKey)
		}
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host cannot be empty", ErrInvalidOllamaHost)
		}
	}

	// 3. Embedder validation. The vector tables are created with
	// embedder_dims, so a wrong value here corrupts retrieval for every
	// record written after it.
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}
	if c.EmbedderDims < 1 || c.EmbedderDims > MaxEmbedderDims {
		return fmt.Errorf("%w: must be between 1 and %d, got %d", ErrInvalidEmbedderDims, MaxEmbedderDims, c.EmbedderDims)
	}

	// 4. Pipeline validation
	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: must be positive, got %d", ErrInvalidChunkSize, c.ChunkSize)
	}
	if c.EmbedBatchSize < 1 {
		return fmt.Errorf("%w: must be positive, got %d", ErrInvalidBatchSize, c.EmbedBatchSize)
	}
	if c.EmbedWorkers < 1 {
		return fmt.Errorf("%w: must be positive, got %d", ErrInvalidWorkers, c.EmbedWorkers)
	}

	// 5. Retrieval validation
	if c.SearchTopK < 1 || c.SearchTopK > MaxSearchTopK {
		return fmt.Errorf("%w: must be between 1 and %d, got %d", ErrInvalidTopK, MaxSearchTopK, c.SearchTopK)
	}
	if c.HistoryLimit < 1 || c.HistoryLimit > MaxHistoryLimit {
		return fmt.Errorf("%w: must be between 1 and %d, got %d", ErrInvalidHistoryLimit, MaxHistoryLimit, c.HistoryLimit)
	}

	return nil
}
