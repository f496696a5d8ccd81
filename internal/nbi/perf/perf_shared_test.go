//go:build perf || perf_large

package perf

import (
	"bytes"
	"context"
	"testing"

	"github.com/signalsfoundry/meshroute/internal/config"
	"github.com/signalsfoundry/meshroute/internal/logging"
	"github.com/signalsfoundry/meshroute/internal/nbi"
	"github.com/signalsfoundry/meshroute/internal/nbi/types"
	"github.com/signalsfoundry/meshroute/internal/sim/state"
	"github.com/signalsfoundry/meshroute/model"
)

type perfConfig struct {
	Shape        model.Shape
	PayloadBytes int
	Trials       int
}

var smallConfig = perfConfig{
	Shape:        model.Shape{Planes: 6, Slots: 11},
	PayloadBytes: 16 << 10,
	Trials:       50,
}

func newService(b *testing.B, cfg perfConfig) *nbi.TransmissionService {
	b.Helper()
	c := config.Default()
	c.Constellation.Shape = cfg.Shape
	return nbi.NewTransmissionService(nbi.NewScenarioFactory(c, logging.Noop()), logging.Noop())
}

func benchmarkTransmit(b *testing.B, cfg perfConfig) {
	svc := newService(b, cfg)
	payload := bytes.Repeat([]byte("meshroute perf "), cfg.PayloadBytes/15+1)[:cfg.PayloadBytes]
	ctx := context.Background()
	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := svc.Transmit(ctx, types.TransmitRequest{Payload: payload}); err != nil {
			b.Fatalf("Transmit: %v", err)
		}
	}
}

func benchmarkRoutes(b *testing.B, cfg perfConfig) {
	svc := newService(b, cfg)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := svc.Routes(ctx, "P0S0", "P2S5"); err != nil {
			b.Fatalf("Routes: %v", err)
		}
	}
}

func benchmarkTrials(b *testing.B, cfg perfConfig) {
	c := config.Default()
	c.Constellation.Shape = cfg.Shape
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		s, err := state.NewScenarioState(c, logging.Noop())
		if err != nil {
			b.Fatalf("NewScenarioState: %v", err)
		}
		b.StartTimer()
		if _, err := s.Benchmark(ctx, cfg.Trials, nil); err != nil {
			b.Fatalf("Benchmark: %v", err)
		}
		s.Close()
	}
}

func BenchmarkTransmitSmall(b *testing.B) {
	benchmarkTransmit(b, smallConfig)
}

func BenchmarkRoutesSmall(b *testing.B) {
	benchmarkRoutes(b, smallConfig)
}

func BenchmarkTrialsSmall(b *testing.B) {
	benchmarkTrials(b, smallConfig)
}
