package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/kioku/internal/config"
	"github.com/koopa0/kioku/internal/knowledge"
)

// Defaults applied when Config leaves the corresponding field zero.
const (
	DefaultTopK         = 5
	DefaultHistoryLimit = 50
)

// Config holds the MCP server wiring.
type Config struct {
	Name    string
	Version string

	// Base is the knowledge base the tools operate on.
	Base *knowledge.Base

	// TopK is the result count the search tools use when a call does not
	// ask for one.
	TopK int

	// HistoryLimit is the message count channel_history returns when a
	// call does not ask for one.
	HistoryLimit int

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Server wraps the MCP SDK server around a knowledge base.
type Server struct {
	mcpServer    *mcp.Server
	base         *knowledge.Base
	logger       *slog.Logger
	name         string
	version      string
	topK         int
	historyLimit int
}

// NewServer creates an MCP server and registers the knowledge tools.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, errors.New("server name is required")
	}
	if cfg.Version == "" {
		return nil, errors.New("server version is required")
	}
	if cfg.Base == nil {
		return nil, errors.New("knowledge base is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		base:         cfg.Base,
		logger:       logger,
		name:         cfg.Name,
		version:      cfg.Version,
		topK:         topK,
		historyLimit: historyLimit,
	}

	if err := s.registerKnowledgeTools(); err != nil {
		return nil, fmt.Errorf("registering knowledge tools: %w", err)
	}

	return s, nil
}

// Run starts the MCP server on the given transport. It blocks until the
// context is cancelled or the transport closes.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("starting MCP server", "name", s.name, "version", s.version)
	return s.mcpServer.Run(ctx, transport)
}

// clampTopK resolves a per-call result count against the server default
// and the global cap.
func (s *Server) clampTopK(n int) int {
	if n <= 0 {
		return s.topK
	}
	return min(n, config.MaxSearchTopK)
}

// clampLimit resolves a per-call history limit against the server default
// and the global cap.
func (s *Server) clampLimit(n int) int {
	if n <= 0 {
		return s.historyLimit
	}
	return min(n, config.MaxHistoryLimit)
}
