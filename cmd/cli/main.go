package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vk/gridfan/internal/app"
	"github.com/vk/gridfan/internal/cli"
	"github.com/vk/gridfan/internal/discover"
)

// main is the entrypoint for the gridfan application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// The real main function handles errors and exit codes.
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error
// handling.
func run(outW io.Writer, args []string) error {
	appConfig, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	// Interrupt and termination signals cancel the run; the engine fails the
	// outstanding units and the report still covers everything submitted.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gridfanApp, err := app.NewApp(outW, appConfig)
	if err != nil {
		return err
	}

	report, err := gridfanApp.Run(ctx)
	if err != nil {
		// A bad input root is user error, not a runtime failure.
		var invalid *discover.InvalidInputError
		if errors.As(err, &invalid) {
			return &cli.ExitError{Code: 2, Message: invalid.Error()}
		}
		return err
	}
	if failed := report.Failed(); len(failed) > 0 {
		return &cli.ExitError{
			Code:    1,
			Message: fmt.Sprintf("%d of %d units failed permanently", len(failed), len(report.Outcomes)),
		}
	}
	return nil
}
