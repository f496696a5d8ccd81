// Package config loads the YAML configuration shared by the CLI and the
// northbound server.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/meshroute/core"
	"github.com/signalsfoundry/meshroute/internal/benchmark"
	"github.com/signalsfoundry/meshroute/internal/codec"
	"github.com/signalsfoundry/meshroute/internal/observability"
	"github.com/signalsfoundry/meshroute/internal/policy"
	"github.com/signalsfoundry/meshroute/internal/routing"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the root document.
type Config struct {
	Constellation core.Config      `yaml:"constellation"`
	Routing       Routing          `yaml:"routing"`
	Transmission  Transmission     `yaml:"transmission"`
	Benchmark     benchmark.Config `yaml:"benchmark"`
	Server        Server           `yaml:"server"`
	Logging       Logging          `yaml:"logging"`

	Tracing observability.TracingConfig `yaml:"tracing"`
}

// Routing configures candidate generation and evaluation.
type Routing struct {
	K               int    `yaml:"k"`
	Phase           int    `yaml:"phase"`
	ThroughputModel string `yaml:"throughput_model"`
}

// Transmission configures the payload pipeline.
type Transmission struct {
	ChunkSize int    `yaml:"chunk_size"`
	Policy    string `yaml:"policy"`
}

// Server holds listen addresses for cmd/nbi-server.
type Server struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Logging mirrors logging.Config for the file format.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a fully populated configuration.
func Default() Config {
	return Config{
		Constellation: core.DefaultConfig(),
		Routing: Routing{
			K:               routing.DefaultK,
			Phase:           routing.DefaultPhase,
			ThroughputModel: routing.ThroughputMax.String(),
		},
		Transmission: Transmission{
			ChunkSize: codec.DefaultChunkSize,
			Policy:    "softmax",
		},
		Benchmark: benchmark.DefaultConfig(),
		Server: Server{
			GRPCAddr:    ":50051",
			HTTPAddr:    ":8080",
			MetricsAddr: ":9090",
		},
		Logging: Logging{Level: "info", Format: "text"},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over Default, so omitted keys keep their defaults.
// Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	cfg.Constellation = cfg.Constellation.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Constellation.Validate(); err != nil {
		return fmt.Errorf("%w: constellation: %v", ErrInvalidConfig, err)
	}
	if c.Routing.K < 0 || c.Routing.K > 4 {
		return fmt.Errorf("%w: routing.k %d outside [0,4]", ErrInvalidConfig, c.Routing.K)
	}
	if _, err := routing.ParseThroughputModel(c.Routing.ThroughputModel); err != nil {
		return fmt.Errorf("%w: routing.throughput_model: %v", ErrInvalidConfig, err)
	}
	if c.Transmission.ChunkSize <= 0 {
		return fmt.Errorf("%w: transmission.chunk_size must be positive", ErrInvalidConfig)
	}
	if _, err := policy.ByName(c.Transmission.Policy); err != nil {
		return fmt.Errorf("%w: transmission.policy: %v", ErrInvalidConfig, err)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("%w: tracing: %v", ErrInvalidConfig, err)
	}
	b := c.Benchmark
	switch {
	case b.Trials < 0:
		return fmt.Errorf("%w: benchmark.trials must be non-negative", ErrInvalidConfig)
	case b.FailureProbability < 0 || b.FailureProbability > 1:
		return fmt.Errorf("%w: benchmark.failure_probability %v outside [0,1]", ErrInvalidConfig, b.FailureProbability)
	case b.RecoverEvery < 0:
		return fmt.Errorf("%w: benchmark.recover_every must be non-negative", ErrInvalidConfig)
	case b.Beta < 0 || b.Beta > 1:
		return fmt.Errorf("%w: benchmark.beta %v outside [0,1]", ErrInvalidConfig, b.Beta)
	}
	return nil
}

// NewFinder returns a path finder configured from the routing section.
func (c Config) NewFinder() *routing.OrbitalPathFinder {
	f := routing.NewOrbitalPathFinder(c.Constellation.Shape)
	if c.Routing.K != 0 {
		f.K = c.Routing.K
	}
	if c.Routing.Phase != 0 {
		f.Phase = c.Routing.Phase
	}
	return f
}

// TracingWithEnv returns the tracing section overlaid with the
// environment and tagged with the constellation shape.
func (c Config) TracingWithEnv() observability.TracingConfig {
	t := c.Tracing.WithEnv()
	attrs := make(map[string]string, len(t.Attributes)+1)
	for k, v := range t.Attributes {
		attrs[k] = v
	}
	shape := c.Constellation.Shape
	attrs["constellation.shape"] = fmt.Sprintf("%dx%d", shape.Planes, shape.Slots)
	t.Attributes = attrs
	return t
}

// ThroughputModel parses the configured model; Validate has already
// rejected unknown names.
func (c Config) ThroughputModel() routing.ThroughputModel {
	m, _ := routing.ParseThroughputModel(c.Routing.ThroughputModel)
	return m
}
