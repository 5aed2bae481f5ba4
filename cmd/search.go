package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/koopa0/kioku/internal/app"
)

// runSearch performs a semantic search over documents or messages.
func runSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	topK := fs.Int("n", 0, "number of results (defaults to search_top_k)")
	messages := fs.Bool("messages", false, "search conversation history instead of documents")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: kioku search [-n N] [-messages] <query>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fs.Usage()
		return errors.New("search: query is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	n := *topK
	if n <= 0 {
		n = cfg.SearchTopK
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Warn("shutdown error", "error", closeErr)
		}
	}()

	if *messages {
		matches, err := a.Base.SearchMessages(ctx, query, n)
		if err != nil {
			return fmt.Errorf("searching messages: %w", err)
		}
		if len(matches) == 0 {
			fmt.Println("no matches")
			return nil
		}
		for i, m := range matches {
			fmt.Printf("%2d. [%.4f] %s/%s %s: %s\n", i+1, m.Distance,
				m.Record.Source, m.Record.ChannelID, m.Record.Role, snippet(m.Record.Content))
		}
		return nil
	}

	matches, err := a.Base.SearchDocuments(ctx, query, n)
	if err != nil {
		return fmt.Errorf("searching documents: %w", err)
	}
	if len(matches) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for i, m := range matches {
		fmt.Printf("%2d. [%.4f] %s\n", i+1, m.Distance, snippet(m.Record.Content))
		if m.Record.SourceID != "" {
			fmt.Printf("    source: %s\n", m.Record.SourceID)
		}
	}

	return nil
}

// snippet reduces content to a single display line.
func snippet(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const maxRunes = 120
	if runes := []rune(s); len(runes) > maxRunes {
		s = string(runes[:maxRunes]) + "..."
	}
	return s
}
