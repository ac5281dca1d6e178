// Package tracing wires process-wide OpenTelemetry tracing for weft.
package tracing

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/weftworks/weft/config"
	"github.com/weftworks/weft/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace/noop"
)

// ShutdownFunc flushes and releases the tracer provider.
type ShutdownFunc func(ctx context.Context) error

// exporterFactory is swapped out in tests.
var exporterFactory = func(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(collectorHost(cfg.Endpoint)),
		otlptracegrpc.WithTimeout(cfg.Timeout),
		otlptracegrpc.WithInsecure(),
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// reportDroppedSpans is swapped out in tests.
var reportDroppedSpans = func(err error, endpoint string, spanCount int) {
	logger.Warn("span export failed, spans dropped",
		"error", err,
		"endpoint", endpoint,
		"span_count", spanCount,
	)
}

// Init configures the global tracer provider and propagators. When tracing
// is disabled it installs a noop provider so instrumented code keeps working.
func Init(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion, environment string) (ShutdownFunc, error) {
	installPropagators()

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	if err := checkConfig(cfg); err != nil {
		return nil, err
	}

	exporter, err := exporterFactory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
			semconv.DeploymentEnvironmentName(environment),
		),
	)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return nil, fmt.Errorf("create tracing resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(&dropOnFailure{
			SpanExporter: exporter,
			endpoint:     collectorHost(cfg.Endpoint),
		}),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(selectSampler(cfg)),
	)
	otel.SetTracerProvider(provider)

	return func(shutdownCtx context.Context) error {
		flushErr := provider.ForceFlush(shutdownCtx)
		if err := provider.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown tracer provider: %w", err)
		}
		if flushErr != nil {
			return fmt.Errorf("flush tracer provider: %w", flushErr)
		}
		return nil
	}, nil
}

func installPropagators() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

func checkConfig(cfg config.TracingConfig) error {
	if strings.TrimSpace(cfg.Exporter) == "" {
		return fmt.Errorf("tracing exporter cannot be empty")
	}
	if collectorHost(cfg.Endpoint) == "" {
		return fmt.Errorf("tracing endpoint cannot be empty")
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("tracing timeout must be > 0")
	}
	return nil
}

// dropOnFailure keeps collector outages from propagating into run
// execution: failed batches are logged and discarded.
type dropOnFailure struct {
	sdktrace.SpanExporter
	endpoint string
}

func (d *dropOnFailure) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if err := d.SpanExporter.ExportSpans(ctx, spans); err != nil {
		reportDroppedSpans(err, d.endpoint, len(spans))
	}
	return nil
}

func selectSampler(cfg config.TracingConfig) sdktrace.Sampler {
	switch strings.ToLower(strings.TrimSpace(cfg.Sampler)) {
	case "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
	}
}

// collectorHost reduces a configured endpoint to the host:port form the
// gRPC exporter expects, accepting full URLs for convenience.
func collectorHost(endpoint string) string {
	raw := strings.TrimSpace(endpoint)
	if raw == "" || !strings.Contains(raw, "://") {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return raw
	}
	return parsed.Host
}
