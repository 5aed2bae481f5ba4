package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/koopa0/kioku/internal/app"
)

// runIngest indexes files, directories, or URLs into the knowledge base.
func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: kioku ingest <path|url> ...")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("ingest: at least one path or URL is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
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

	for _, target := range fs.Args() {
		result, err := a.Ingestor.Ingest(ctx, target)
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", target, err)
		}
		fmt.Printf("%s: %d files indexed as %d chunks, %d skipped, %d failed (%.1fs)\n",
			target, result.FilesAdded, result.Chunks, result.FilesSkipped,
			result.FilesFailed, result.Duration.Seconds())
	}

	return nil
}
