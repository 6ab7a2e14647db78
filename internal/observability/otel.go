// Package observability wires OpenTelemetry tracing for the service.
//
// Spans are exported over OTLP HTTP to whatever collector the endpoint
// names (an OTel Collector, a vendor agent, anything speaking OTLP).
// An empty endpoint disables export entirely; span creation throughout
// the codebase then hits the default no-op provider and costs nothing.
package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// Config for OTel setup.
type Config struct {
	// Endpoint is the OTLP HTTP collector endpoint (host:port).
	// Empty disables tracing export.
	Endpoint string

	// ServiceName appears as service.name on every span.
	ServiceName string

	// Environment is the deployment environment (dev, staging, prod).
	Environment string
}

// Setup installs a global TracerProvider exporting to the configured
// endpoint. Returns a shutdown function that flushes pending spans.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (shutdown func(context.Context) error, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Endpoint == "" {
		logger.Debug("tracing disabled, no OTLP endpoint configured")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		// Missing collector must not take the service down.
		logger.Warn("failed to create OTLP exporter, tracing disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.DeploymentEnvironmentName(cfg.Environment),
	))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	logger.Debug("tracing enabled",
		"endpoint", cfg.Endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)
	return provider.Shutdown, nil
}
