package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/exporter/internal/shared"
)

func main() {
	logger := shared.NewLogger(nil)
	runner := NewRunner(RunnerOpts{Logger: logger})

	app := &cli.Command{
		Name:     "exporter",
		Usage:    "Export, encrypt and upload course data for partner organizations",
		Version:  "0.1.0",
		Flags:    globalFlags(),
		Before:   runner.Load,
		Commands: runner.register(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		if errors.Is(err, shared.ErrConfiguration) {
			logger.Fatalf("configuration error: %v", err)
		}
		logger.Fatalf("application error: %v", err)
	}
}
