package log_test

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/chainguard-dev/clog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sysadmin-ai/vmtest/internal/log"
)

func TestLevelsAndWith(t *testing.T) {
	var buf bytes.Buffer
	ctx := clog.WithLogger(t.Context(), clog.New(slog.NewTextHandler(&buf, nil)))
	ctx = log.With(ctx, "session", "0f5a1f9e")

	log.Info(ctx, "droplet ready", "ip", "203.0.113.7")
	log.Debug(ctx, "never printed at the default level")

	out := buf.String()
	assert.Contains(t, out, "droplet ready")
	assert.Contains(t, out, "session=0f5a1f9e")
	assert.Contains(t, out, "ip=203.0.113.7")
	assert.NotContains(t, out, "never printed")
}

func TestSetupSessionLogging(t *testing.T) {
	dir := t.TempDir()
	ctx := clog.WithLogger(t.Context(), clog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, closer := log.SetupSessionLogging(ctx, dir, "0f5a1f9e")
	clog.FromContext(ctx).Info("provisioning started", "image", "ubuntu-24-04-x64")
	clog.FromContext(ctx).Debug("file gets the debug stream too")
	closer()

	data, err := os.ReadFile(filepath.Join(dir, "0f5a1f9e.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "provisioning started")
	assert.Contains(t, string(data), "ubuntu-24-04-x64")
	assert.Contains(t, string(data), "file gets the debug stream too")
}

func TestSetupSessionLogging_Disabled(t *testing.T) {
	ctx, closer := log.SetupSessionLogging(t.Context(), "", "0f5a1f9e")
	require.NotNil(t, ctx)
	closer()
}
