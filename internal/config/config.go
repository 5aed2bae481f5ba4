// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.kioku/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: embedding provider and model selection
//   - Storage: SQLite database location
//   - Pipeline: chunking, batching and rate limits for embedding
//   - Retrieval: search and history result limits
//   - Logging: level and output format
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedderDims indicates the embedder dimensionality is out of range.
	ErrInvalidEmbedderDims = errors.New("invalid embedder dimensions")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidChunkSize indicates the chunk size is out of range.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrInvalidBatchSize indicates the embedding batch size is out of range.
	ErrInvalidBatchSize = errors.New("invalid embed batch size")

	// ErrInvalidWorkers indicates the embedding concurrency is out of range.
	ErrInvalidWorkers = errors.New("invalid embed workers")

	// ErrInvalidTopK indicates the search result limit is out of range.
	ErrInvalidTopK = errors.New("invalid search top k")

	// ErrInvalidHistoryLimit indicates the history limit is out of range.
	ErrInvalidHistoryLimit = errors.New("invalid history limit")
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default, but supports
	// truncation to 768 via OutputDimensionality; the stores are created
	// with embedder_dims, so model and dims must agree.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultEmbedderDims is the vector width the stores are created with.
	DefaultEmbedderDims = 768

	// MaxEmbedderDims is the widest vector the configuration accepts.
	MaxEmbedderDims = 4096

	// MaxSearchTopK caps how many matches a single search may request.
	MaxSearchTopK = 50

	// MaxHistoryLimit caps how many messages a history read may request.
	MaxHistoryLimit = 1000
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config stores application configuration.
type Config struct {
	// AI provider and embedding model configuration
	Provider      string `mapstructure:"provider" json:"provider"` // "gemini" (default), "ollama", "openai"
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDims  int    `mapstructure:"embedder_dims" json:"embedder_dims"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Storage configuration
	DataDir string `mapstructure:"data_dir" json:"data_dir"` // defaults to ~/.kioku
	DBPath  string `mapstructure:"db_path" json:"db_path"`   // defaults to <data_dir>/kioku.db

	// Embedding pipeline configuration
	ChunkSize      int `mapstructure:"chunk_size" json:"chunk_size"`             // runes per chunk
	EmbedBatchSize int `mapstructure:"embed_batch_size" json:"embed_batch_size"` // chunks per model request
	EmbedWorkers   int `mapstructure:"embed_workers" json:"embed_workers"`       // model requests in flight
	EmbedRPM       int `mapstructure:"embed_rpm" json:"embed_rpm"`               // model requests per minute, 0 = unlimited

	// Retrieval configuration
	SearchTopK   int `mapstructure:"search_top_k" json:"search_top_k"`
	HistoryLimit int `mapstructure:"history_limit" json:"history_limit"`

	// Logging configuration
	LogLevel  string `mapstructure:"log_level" json:"log_level"`   // debug, info, warn, error
	LogFormat string `mapstructure:"log_format" json:"log_format"` // text or json
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	// Configuration directory: ~/.kioku/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".kioku")

	// Ensure directory exists (use 0750 permission for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	// Configure Viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults(configDir)
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// The database path is derived from the data directory unless set
	// explicitly.
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "kioku.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(configDir string) {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("embedder_dims", DefaultEmbedderDims)

	// Ollama defaults
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// Storage defaults
	viper.SetDefault("data_dir", configDir)
	viper.SetDefault("db_path", "")

	// Pipeline defaults
	viper.SetDefault("chunk_size", 1600)
	viper.SetDefault("embed_batch_size", 32)
	viper.SetDefault("embed_workers", 4)
	viper.SetDefault("embed_rpm", 0)

	// Retrieval defaults
	viper.SetDefault("search_top_k", 5)
	viper.SetDefault("history_limit", 50)

	// Logging defaults
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
}

// bindEnvVariables binds environment variable overrides explicitly.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "KIOKU_PROVIDER")
	mustBind("embedder_model", "KIOKU_EMBEDDER_MODEL")
	mustBind("embedder_dims", "KIOKU_EMBEDDER_DIMS")
	mustBind("ollama_host", "KIOKU_OLLAMA_HOST")
	mustBind("data_dir", "KIOKU_DATA_DIR")
	mustBind("db_path", "KIOKU_DB_PATH")
	mustBind("embed_rpm", "KIOKU_EMBED_RPM")
	mustBind("log_level", "KIOKU_LOG_LEVEL")
	mustBind("log_format", "KIOKU_LOG_FORMAT")

	// NOTE: GEMINI_API_KEY is read directly by Genkit, not via Viper
	// NOTE: OPENAI_API_KEY is read directly by the Genkit OpenAI plugin
	// Validation checks their presence based on the selected provider in cfg.Validate()
}
