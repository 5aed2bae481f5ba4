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

// runHistory prints the most recent messages in a channel.
func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("n", 0, "number of messages (defaults to history_limit)")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: kioku history [-n N] <channel-id>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("history: exactly one channel id is required")
	}
	channelID := fs.Arg(0)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	n := *limit
	if n <= 0 {
		n = cfg.HistoryLimit
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

	msgs, err := a.Base.ChannelMessages(ctx, channelID, n)
	if err != nil {
		return fmt.Errorf("reading channel history: %w", err)
	}
	if len(msgs) == 0 {
		fmt.Println("no messages")
		return nil
	}

	// ChannelMessages returns newest first; print oldest first for reading.
	for i := len(msgs) - 1; i >= 0; i-- {
		fmt.Printf("%s: %s\n", msgs[i].SourceID, msgs[i].Content)
	}

	return nil
}
