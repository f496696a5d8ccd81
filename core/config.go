package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/meshroute/model"
)

// ErrInvalidConfig indicates a constellation configuration that cannot be
// simulated.
var ErrInvalidConfig = errors.New("invalid constellation config")

// Config holds the constellation shape and the parameters of the node
// state-evolution process.
type Config struct {
	Shape model.Shape `yaml:"shape"`

	// MaxCapacityMbps is each node's link bandwidth at zero load.
	// Default: 1000
	MaxCapacityMbps float64 `yaml:"max_capacity_mbps"`

	// InitialLoadMin/Max bound the uniform baseline load drawn at start
	// and on recovery. Default: 0.1 and 0.4
	InitialLoadMin float64 `yaml:"initial_load_min"`
	InitialLoadMax float64 `yaml:"initial_load_max"`

	// LoadDelta bounds the per-evolution load perturbation to
	// [-LoadDelta, +LoadDelta]. Default: 0.1
	LoadDelta float64 `yaml:"load_delta"`

	// DampingFactor scales how much load eats into capacity:
	// capacity = max * (1 - load*damping). Zero disables damping.
	// Default: 0.5
	DampingFactor float64 `yaml:"damping_factor"`

	// EvolveMin/Max bound the whole-second interval between a node's
	// state changes. Default: 1s and 5s
	EvolveMin time.Duration `yaml:"evolve_min"`
	EvolveMax time.Duration `yaml:"evolve_max"`

	// PacketSizeBytes is the reference packet used for transmission
	// delay in link metric queries. Default: 1500
	PacketSizeBytes int `yaml:"packet_size_bytes"`

	// IntraPlaneDistanceM and InterPlaneDistanceM are the nominal link
	// lengths per class; JitterM bounds the uniform jitter added to each
	// query, and zero turns jitter off. Defaults: 500 km, 800 km, 1000 m
	IntraPlaneDistanceM float64 `yaml:"intra_plane_distance_m"`
	InterPlaneDistanceM float64 `yaml:"inter_plane_distance_m"`
	JitterM             float64 `yaml:"jitter_m"`

	// QueuingDelayAtFullLoad is the queuing delay in seconds a node adds at
	// load 1. Zero means no queuing delay. Default: 0.05
	QueuingDelayAtFullLoad float64 `yaml:"queuing_delay_at_full_load"`

	// Seed drives every random draw so runs are reproducible.
	Seed uint64 `yaml:"seed"`
}

// DefaultConfig returns the 24-plane, 66-slot constellation with the
// reference load model.
func DefaultConfig() Config {
	return Config{
		Shape:                  model.Shape{Planes: 24, Slots: 66},
		MaxCapacityMbps:        1000,
		InitialLoadMin:         0.1,
		InitialLoadMax:         0.4,
		LoadDelta:              0.1,
		DampingFactor:          0.5,
		EvolveMin:              time.Second,
		EvolveMax:              5 * time.Second,
		PacketSizeBytes:        1500,
		IntraPlaneDistanceM:    500_000,
		InterPlaneDistanceM:    800_000,
		JitterM:                1000,
		QueuingDelayAtFullLoad: 0.05,
		Seed:                   1,
	}
}

// ApplyDefaults fills zero-valued fields from DefaultConfig. The shape is
// left alone when either dimension is set. DampingFactor, JitterM and
// QueuingDelayAtFullLoad are never filled: zero is a valid setting for
// each, so their defaults come only from DefaultConfig.
func (c Config) ApplyDefaults() Config {
	d := DefaultConfig()
	if c.Shape.Planes == 0 && c.Shape.Slots == 0 {
		c.Shape = d.Shape
	}
	if c.MaxCapacityMbps == 0 {
		c.MaxCapacityMbps = d.MaxCapacityMbps
	}
	if c.InitialLoadMin == 0 && c.InitialLoadMax == 0 {
		c.InitialLoadMin, c.InitialLoadMax = d.InitialLoadMin, d.InitialLoadMax
	}
	if c.LoadDelta == 0 {
		c.LoadDelta = d.LoadDelta
	}
	if c.EvolveMin == 0 && c.EvolveMax == 0 {
		c.EvolveMin, c.EvolveMax = d.EvolveMin, d.EvolveMax
	}
	if c.PacketSizeBytes == 0 {
		c.PacketSizeBytes = d.PacketSizeBytes
	}
	if c.IntraPlaneDistanceM == 0 {
		c.IntraPlaneDistanceM = d.IntraPlaneDistanceM
	}
	if c.InterPlaneDistanceM == 0 {
		c.InterPlaneDistanceM = d.InterPlaneDistanceM
	}
	return c
}

// Validate reports the first problem that would make the configuration
// unusable.
func (c Config) Validate() error {
	switch {
	case c.Shape.Planes < 1 || c.Shape.Slots < 1:
		return fmt.Errorf("%w: shape %dx%d", ErrInvalidConfig, c.Shape.Planes, c.Shape.Slots)
	case c.MaxCapacityMbps <= 0:
		return fmt.Errorf("%w: max capacity must be positive", ErrInvalidConfig)
	case c.InitialLoadMin < 0 || c.InitialLoadMax > 1 || c.InitialLoadMin > c.InitialLoadMax:
		return fmt.Errorf("%w: initial load bounds [%v, %v]", ErrInvalidConfig, c.InitialLoadMin, c.InitialLoadMax)
	case c.LoadDelta < 0:
		return fmt.Errorf("%w: load delta must be non-negative", ErrInvalidConfig)
	case c.DampingFactor < 0 || c.DampingFactor > 1:
		return fmt.Errorf("%w: damping factor %v outside [0,1]", ErrInvalidConfig, c.DampingFactor)
	case c.EvolveMin <= 0 || c.EvolveMax < c.EvolveMin:
		return fmt.Errorf("%w: evolve interval [%v, %v]", ErrInvalidConfig, c.EvolveMin, c.EvolveMax)
	case c.PacketSizeBytes <= 0:
		return fmt.Errorf("%w: packet size must be positive", ErrInvalidConfig)
	case c.JitterM < 0:
		return fmt.Errorf("%w: jitter must be non-negative", ErrInvalidConfig)
	case c.QueuingDelayAtFullLoad < 0:
		return fmt.Errorf("%w: queuing delay must be non-negative", ErrInvalidConfig)
	}
	return nil
}
