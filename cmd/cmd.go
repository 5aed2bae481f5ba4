// Package cmd provides CLI commands for kioku.
//
// Commands:
//   - mcp: Model Context Protocol server over stdio
//   - ingest: index files, directories, or URLs into the knowledge base
//   - search: semantic search over documents or messages
//   - history: recent messages in a channel
//
// Signal handling and graceful shutdown are implemented for all
// long-running commands via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/koopa0/kioku/internal/config"
	"github.com/koopa0/kioku/internal/log"
)

// Execute is the main entry point for the kioku CLI application.
func Execute() error {
	// Fallback logger until the configured one is installed in loadConfig
	slog.SetDefault(log.New(log.Config{}))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "mcp":
		return runMCP()
	case "ingest":
		return runIngest(os.Args[2:])
	case "search":
		return runSearch(os.Args[2:])
	case "history":
		return runHistory(os.Args[2:])
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// loadConfig loads the configuration and installs the configured logger
// as the process default. Logs go to stderr so stdout stays free for
// command output and the MCP stdio transport.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(log.New(log.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}))

	return cfg, nil
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("Kioku - long-term memory for conversational agents")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  kioku mcp                          Start MCP server (stdio transport)")
	fmt.Println("  kioku ingest <path|url> ...        Index files, directories, or web pages")
	fmt.Println("  kioku search [-n N] <query>        Semantic search over documents")
	fmt.Println("  kioku search -messages <query>     Semantic search over conversation history")
	fmt.Println("  kioku history [-n N] <channel-id>  Show recent messages in a channel")
	fmt.Println("  kioku --version                    Show version information")
	fmt.Println("  kioku --help                       Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY       Gemini API key (default provider)")
	fmt.Println("  KIOKU_PROVIDER       AI provider: gemini, ollama, openai")
	fmt.Println("  KIOKU_DB_PATH        SQLite database path")
	fmt.Println("  KIOKU_LOG_LEVEL      debug, info, warn, error")
	fmt.Println()
	fmt.Println("Learn more: https://github.com/koopa0/kioku")
}
