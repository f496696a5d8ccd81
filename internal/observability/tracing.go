package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/meshroute/internal/logging"
)

// Exporter names accepted by TracingConfig.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"

	defaultOTLPEndpoint = "localhost:4317"
	serviceNamespace    = "meshroute"
	shutdownTimeout     = 5 * time.Second
)

// ErrInvalidTracing is returned by TracingConfig.Validate.
var ErrInvalidTracing = errors.New("invalid tracing config")

// TracingConfig is the `tracing:` section of the config file. Environment
// variables layered on with WithEnv take precedence.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
	// Attributes are added to the trace resource, e.g. the constellation
	// shape a server was started with.
	Attributes map[string]string `yaml:"attributes"`
	// Writer receives stdout-exporter spans. Defaults to os.Stderr so
	// JSON printed by the CLI on stdout stays parseable.
	Writer io.Writer `yaml:"-"`
}

// DefaultTracingConfig is disabled, stdout, full sampling.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName: serviceNamespace,
		Exporter:    ExporterStdout,
		SampleRatio: 1,
	}
}

// TracingConfigFromEnv is DefaultTracingConfig overlaid with the
// environment.
func TracingConfigFromEnv() TracingConfig {
	return DefaultTracingConfig().WithEnv()
}

// WithEnv overlays MESHROUTE_TRACING_ENABLED, _EXPORTER, _SERVICE_NAME,
// _SAMPLE_RATIO and MESHROUTE_OTLP_ENDPOINT. Unparseable values are ignored.
func (c TracingConfig) WithEnv() TracingConfig {
	if v := os.Getenv("MESHROUTE_TRACING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Enabled = b
		}
	}
	if v := os.Getenv("MESHROUTE_TRACING_EXPORTER"); v != "" {
		c.Exporter = strings.ToLower(v)
	}
	if v := os.Getenv("MESHROUTE_TRACING_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv("MESHROUTE_TRACING_SAMPLE_RATIO"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r >= 0 && r <= 1 {
			c.SampleRatio = r
		}
	}
	if v := os.Getenv("MESHROUTE_OTLP_ENDPOINT"); v != "" {
		c.Endpoint = v
		// An explicit collector endpoint implies tracing is wanted.
		if c.isOTLP() && os.Getenv("MESHROUTE_TRACING_ENABLED") == "" {
			c.Enabled = true
		}
	}
	return c
}

// Validate checks the exporter name and sample ratio.
func (c TracingConfig) Validate() error {
	switch strings.ToLower(c.Exporter) {
	case "", ExporterStdout, ExporterOTLP, "otlpgrpc":
	default:
		return fmt.Errorf("%w: unsupported exporter %q", ErrInvalidTracing, c.Exporter)
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("%w: sample ratio %v outside [0,1]", ErrInvalidTracing, c.SampleRatio)
	}
	return nil
}

func (c TracingConfig) isOTLP() bool {
	e := strings.ToLower(c.Exporter)
	return e == ExporterOTLP || e == "otlpgrpc"
}

// InitTracing installs a global tracer provider and propagators. It
// returns a shutdown function that flushes pending spans.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ratio := cfg.SampleRatio
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.Float64("sample_ratio", ratio),
	)
	return tp.Shutdown, nil
}

func newResource(ctx context.Context, cfg TracingConfig) (*resource.Resource, error) {
	service := cfg.ServiceName
	if service == "" {
		service = serviceNamespace
	}
	attrs := []attribute.KeyValue{
		attribute.String("service.name", service),
		attribute.String("service.namespace", serviceNamespace),
	}
	keys := make([]string, 0, len(cfg.Attributes))
	for k := range cfg.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, cfg.Attributes[k]))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	return res, nil
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	if cfg.isOTLP() {
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	}
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	return stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
		stdouttrace.WithoutTimestamps(),
	)
}

// ShutdownWithTimeout flushes tracing within a bounded time, logging
// rather than returning failures.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
