// vmtest provisions short-lived DigitalOcean droplets, verifies them over
// SSH, and destroys them again. Every run is bounded by a spend budget, a
// droplet cap, and a wall-clock deadline, and teardown runs even when the
// run is interrupted.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainguard-dev/clog"
	charmlog "github.com/charmbracelet/log"
	slogmulti "github.com/samber/slog-multi"

	"github.com/sysadmin-ai/vmtest/internal/o11y"
)

// console is the terminal handler. Commands raise its level for --verbose.
var console *charmlog.Logger

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx = setupLog(ctx)

	shutdown, err := o11y.SetupTracing(ctx)
	if err != nil {
		clog.WarnContext(ctx, "tracing disabled", "error", err.Error())
		shutdown = func(context.Context) error { return nil }
	}

	err = rootCmd.ExecuteContext(ctx)

	if flushErr := shutdown(context.WithoutCancel(ctx)); flushErr != nil {
		clog.WarnContext(ctx, "trace flush failed", "error", flushErr.Error())
	}

	if err != nil {
		clog.ErrorContext(ctx, err.Error())
		os.Exit(1)
	}
}

// setupLog installs the terminal handler as both the context logger and the
// process default.
func setupLog(ctx context.Context) context.Context {
	console = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
	})

	logger := clog.New(slogmulti.Fanout(console))
	ctx = clog.WithLogger(ctx, logger)
	slog.SetDefault(&logger.Logger)
	return ctx
}
