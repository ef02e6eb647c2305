// Package main is the tracker CLI. It talks to a running server:
//
//	TRACKER_URL=http://localhost:8080 TRACKER_TOKEN=... tracker status
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/mattn/go-isatty"

	"github.com/sakif/progress-tracker/internal/cli"
	"github.com/sakif/progress-tracker/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config.CLI
	if err := config.ParseEnv(&cfg); err != nil {
		return err
	}

	// Logs go to stderr so piped JSON output stays clean.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLevel(cfg.LogLevel),
	}))

	app := &cli.App{
		Config: cfg,
		Logger: logger,
		IsInteractive: func() bool {
			return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
		},
	}
	if !clipboard.Unsupported {
		app.Clipboard = clipboard.WriteAll
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return cli.NewRootCmd(app).ExecuteContext(ctx)
}
