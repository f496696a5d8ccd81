package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/signalsfoundry/meshroute/internal/logging"
)

func clearTracingEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MESHROUTE_TRACING_ENABLED",
		"MESHROUTE_TRACING_EXPORTER",
		"MESHROUTE_TRACING_SERVICE_NAME",
		"MESHROUTE_TRACING_SAMPLE_RATIO",
		"MESHROUTE_OTLP_ENDPOINT",
	} {
		t.Setenv(k, "")
	}
}

func TestTracingConfigFromEnv(t *testing.T) {
	clearTracingEnv(t)
	t.Setenv("MESHROUTE_TRACING_EXPORTER", "OTLP")
	t.Setenv("MESHROUTE_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("MESHROUTE_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled {
		t.Fatalf("Enabled = false, want true when an OTLP endpoint is set")
	}
	if cfg.Exporter != ExporterOTLP {
		t.Fatalf("Exporter = %q, want %q", cfg.Exporter, ExporterOTLP)
	}
	if cfg.ServiceName != "meshroute" {
		t.Fatalf("ServiceName = %q, want meshroute", cfg.ServiceName)
	}
	if cfg.SampleRatio != 0.25 {
		t.Fatalf("SampleRatio = %v, want 0.25", cfg.SampleRatio)
	}
	if cfg.Endpoint != "collector:4317" {
		t.Fatalf("Endpoint = %q, want collector:4317", cfg.Endpoint)
	}
}

func TestWithEnvOverridesFileValues(t *testing.T) {
	clearTracingEnv(t)
	t.Setenv("MESHROUTE_TRACING_ENABLED", "false")
	t.Setenv("MESHROUTE_TRACING_SERVICE_NAME", "meshroute-edge")

	file := TracingConfig{Enabled: true, Exporter: ExporterOTLP, ServiceName: "from-file", SampleRatio: 0.5}
	got := file.WithEnv()
	if got.Enabled {
		t.Fatalf("Enabled = true, want env false to win")
	}
	if got.ServiceName != "meshroute-edge" {
		t.Fatalf("ServiceName = %q, want meshroute-edge", got.ServiceName)
	}
	if got.SampleRatio != 0.5 {
		t.Fatalf("SampleRatio = %v, want file value 0.5", got.SampleRatio)
	}
}

func TestTracingConfigIgnoresBadRatio(t *testing.T) {
	clearTracingEnv(t)
	t.Setenv("MESHROUTE_TRACING_SAMPLE_RATIO", "3")
	if got := TracingConfigFromEnv().SampleRatio; got != 1 {
		t.Fatalf("SampleRatio = %v, want 1", got)
	}
}

func TestTracingConfigValidate(t *testing.T) {
	cases := map[string]TracingConfig{
		"exporter": {Exporter: "zipkin"},
		"ratio":    {Exporter: ExporterStdout, SampleRatio: 2},
	}
	for name, cfg := range cases {
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidTracing) {
			t.Fatalf("%s: err = %v, want ErrInvalidTracing", name, err)
		}
	}
	if err := DefaultTracingConfig().Validate(); err != nil {
		t.Fatalf("default Validate = %v", err)
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracingStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Writer = &buf
	cfg.Attributes = map[string]string{"constellation.shape": "6x11"}

	shutdown, err := InitTracing(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "probe")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	out := buf.String()
	for _, want := range []string{"probe", "constellation.shape", "6x11"} {
		if !strings.Contains(out, want) {
			t.Fatalf("exported spans missing %q:\n%s", want, out)
		}
	}
	if _, err := InitTracing(context.Background(), TracingConfig{}, nil); err != nil {
		t.Fatalf("reset tracing: %v", err)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil)
	if !errors.Is(err, ErrInvalidTracing) {
		t.Fatalf("InitTracing(zipkin) err = %v, want ErrInvalidTracing", err)
	}
}
