package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chainguard-dev/clog"
	slogmulti "github.com/samber/slog-multi"
)

// SetupSessionLogging tees everything logged through the returned context
// into a per-session file under 'dir'. The file gets the full debug stream
// regardless of the terminal level, so a failed run can be reconstructed
// after the fact. An empty dir disables the tee; file trouble degrades to
// terminal-only logging rather than failing the run.
func SetupSessionLogging(ctx context.Context, dir, sessionID string) (context.Context, func()) {
	if dir == "" {
		return ctx, func() {}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		clog.WarnContext(ctx, "failed to create log directory", "path", dir, "error", err.Error())
		return ctx, func() {}
	}

	logPath := filepath.Join(dir, fmt.Sprintf("%s.log", sessionID))
	logFile, err := os.Create(logPath)
	if err != nil {
		clog.WarnContext(ctx, "failed to create session log file", "path", logPath, "error", err.Error())
		return ctx, func() {}
	}

	fileHandler := slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := slogmulti.Fanout(clog.FromContext(ctx).Handler(), fileHandler)

	clog.InfoContext(ctx, "logging session output to file", "path", logPath)
	ctx = clog.WithLogger(ctx, clog.New(handler))

	return ctx, func() {
		if err := logFile.Close(); err != nil {
			clog.WarnContext(ctx, "failed to close session log file", "path", logPath, "error", err.Error())
		}
	}
}
