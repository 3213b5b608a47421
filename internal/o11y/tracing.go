// Package o11y wires the process-global tracer. Tracing is opt-in: without
// an OTLP endpoint configured, setup is a no-op and spans go nowhere.
package o11y

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by span attributes and log lines.
const (
	AttrSessionID = "session"
	AttrImage     = "image"
	AttrDroplet   = "droplet"
	AttrWorkload  = "workload"
)

const scope = "github.com/sysadmin-ai/vmtest"

// Tracer returns the process tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(scope)
}

// SetupTracing configures the global otel TracerProvider. When
// OTEL_EXPORTER_OTLP_TRACES_ENDPOINT is set, spans are exported via
// OTLP/HTTP; the returned function flushes them on shutdown. The process is
// short-lived, so spans export synchronously rather than batched.
func SetupTracing(ctx context.Context) (func(context.Context) error, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT") == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("building the OTLP trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithFromEnv())
	if err != nil {
		return nil, fmt.Errorf("assembling the trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}
