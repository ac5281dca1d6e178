package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/weftworks/weft/config"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type stubExporter struct {
	exportErr      error
	exportCalls    int
	shutdownCalled bool
	blockShutdown  bool
}

func (s *stubExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error {
	s.exportCalls++
	return s.exportErr
}

func (s *stubExporter) Shutdown(ctx context.Context) error {
	s.shutdownCalled = true
	if s.blockShutdown {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func useStubExporter(t *testing.T, stub *stubExporter) *int {
	t.Helper()
	origFactory := exporterFactory
	t.Cleanup(func() { exporterFactory = origFactory })

	factoryCalls := 0
	exporterFactory = func(context.Context, config.TracingConfig) (sdktrace.SpanExporter, error) {
		factoryCalls++
		return stub, nil
	}
	return &factoryCalls
}

func enabledConfig() config.TracingConfig {
	return config.TracingConfig{
		Enabled:    true,
		Exporter:   "otlp",
		Endpoint:   "localhost:4317",
		Timeout:    time.Second,
		Sampler:    "always_on",
		SampleRate: 1.0,
	}
}

func TestInitDisabledSkipsExporter(t *testing.T) {
	factoryCalls := useStubExporter(t, &stubExporter{})

	shutdown, err := Init(context.Background(), config.TracingConfig{Enabled: false}, "weft", "test", "development")
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if *factoryCalls != 0 {
		t.Fatal("disabled tracing must not build an exporter")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
}

func TestInitRejectsIncompleteConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.TracingConfig)
		want   string
	}{
		{"missing exporter", func(c *config.TracingConfig) { c.Exporter = " " }, "exporter"},
		{"missing endpoint", func(c *config.TracingConfig) { c.Endpoint = "" }, "endpoint"},
		{"zero timeout", func(c *config.TracingConfig) { c.Timeout = 0 }, "timeout"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := enabledConfig()
			tc.mutate(&cfg)

			_, err := Init(context.Background(), cfg, "weft", "test", "development")
			if err == nil {
				t.Fatal("Init() expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Init() error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestInitEnabledShutdownFlushesExporter(t *testing.T) {
	stub := &stubExporter{}
	useStubExporter(t, stub)

	shutdown, err := Init(context.Background(), enabledConfig(), "weft", "test", "production")
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
	if !stub.shutdownCalled {
		t.Fatal("expected exporter shutdown")
	}
}

func TestExportFailureDropsSpansQuietly(t *testing.T) {
	stub := &stubExporter{exportErr: errors.New("collector unavailable")}
	useStubExporter(t, stub)

	origReporter := reportDroppedSpans
	t.Cleanup(func() { reportDroppedSpans = origReporter })

	dropped := 0
	reportDroppedSpans = func(err error, endpoint string, spanCount int) {
		dropped += spanCount
		if err == nil {
			t.Fatal("expected the export error in the drop report")
		}
		if endpoint != "localhost:4317" {
			t.Fatalf("drop report endpoint = %q", endpoint)
		}
	}

	shutdown, err := Init(context.Background(), enabledConfig(), "weft", "test", "development")
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	_, span := otel.Tracer("weft.test").Start(context.Background(), "execute-run")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown() must not surface export failures, got %v", err)
	}
	if stub.exportCalls == 0 {
		t.Fatal("expected export attempts")
	}
	if dropped == 0 {
		t.Fatal("expected dropped spans to be reported")
	}
}

func TestShutdownHonorsContextDeadline(t *testing.T) {
	useStubExporter(t, &stubExporter{blockShutdown: true})

	shutdown, err := Init(context.Background(), enabledConfig(), "weft", "test", "development")
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := shutdown(ctx); err == nil {
		t.Fatal("expected shutdown() to fail when the exporter hangs")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("shutdown() blocked for %v past its deadline", elapsed)
	}
}

func TestSelectSampler(t *testing.T) {
	if got := selectSampler(config.TracingConfig{Sampler: "always_on"}).Description(); !strings.Contains(got, "AlwaysOnSampler") {
		t.Fatalf("always_on sampler = %s", got)
	}
	if got := selectSampler(config.TracingConfig{Sampler: "always_off"}).Description(); !strings.Contains(got, "AlwaysOffSampler") {
		t.Fatalf("always_off sampler = %s", got)
	}
	if got := selectSampler(config.TracingConfig{Sampler: "ratio", SampleRate: 0.25}).Description(); !strings.Contains(strings.ToLower(got), "parentbased") {
		t.Fatalf("ratio sampler = %s", got)
	}
}

func TestCollectorHost(t *testing.T) {
	if got := collectorHost("localhost:4317"); got != "localhost:4317" {
		t.Fatalf("collectorHost() = %q", got)
	}
	if got := collectorHost("http://collector:4317/v1/traces"); got != "collector:4317" {
		t.Fatalf("collectorHost() = %q", got)
	}
	if got := collectorHost("  "); got != "" {
		t.Fatalf("collectorHost() = %q, want empty", got)
	}
}
