package state

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/signalsfoundry/meshroute/internal/config"
	"github.com/signalsfoundry/meshroute/internal/logging"
	"github.com/signalsfoundry/meshroute/internal/routing"
	"github.com/signalsfoundry/meshroute/internal/transmit"
	"github.com/signalsfoundry/meshroute/model"
)

func newTestState(t *testing.T, opts ...ScenarioStateOption) *ScenarioState {
	t.Helper()
	cfg := config.Default()
	cfg.Constellation.Shape = model.Shape{Planes: 6, Slots: 11}
	s, err := NewScenarioState(cfg, logging.Noop(), opts...)
	if err != nil {
		t.Fatalf("NewScenarioState() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestSendAdvancesScenarioClock(t *testing.T) {
	s := newTestState(t)
	resp, err := s.Send(context.Background(), transmit.Request{
		Payload: bytes.Repeat([]byte("meshroute "), 500),
		Src:     model.NodeID{Plane: 0, Slot: 0},
		Dst:     model.NodeID{Plane: 2, Slot: 5},
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(resp.Routes) == 0 || len(resp.Timeline) == 0 {
		t.Fatalf("Send() returned %d routes, %d events", len(resp.Routes), len(resp.Timeline))
	}
	if now := s.Snapshot().Now; now <= 0 {
		t.Fatalf("Snapshot().Now = %v, want > 0 after a transmission", now)
	}
}

func TestClearScenarioResetsTime(t *testing.T) {
	s := newTestState(t)
	ctx := context.Background()
	if _, err := s.Benchmark(ctx, 5, nil); err != nil {
		t.Fatalf("Benchmark() error = %v", err)
	}
	if now := s.Snapshot().Now; now == 0 {
		t.Fatalf("Now = 0 after benchmark, want > 0")
	}
	if err := s.ClearScenario(ctx); err != nil {
		t.Fatalf("ClearScenario() error = %v", err)
	}
	snap := s.Snapshot()
	if snap.Now != 0 {
		t.Fatalf("Now after clear = %v, want 0", snap.Now)
	}
	for _, n := range snap.Nodes {
		if !n.Active {
			t.Fatalf("node %s inactive after clear", n.ID)
		}
	}
}

func TestRouteObserverSeesEvaluations(t *testing.T) {
	var outcomes []routing.EvalOutcome
	s := newTestState(t, WithRouteObserver(func(o routing.EvalOutcome) {
		outcomes = append(outcomes, o)
	}))
	d, err := s.Routes(context.Background(), model.NodeID{Plane: 0, Slot: 0}, model.NodeID{Plane: 0, Slot: 3})
	if err != nil {
		t.Fatalf("Routes() error = %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("observed %d outcomes, want 3", len(outcomes))
	}
	if len(d.Routes) != 3 {
		t.Fatalf("len(Routes) = %d, want 3", len(d.Routes))
	}
}

func TestSameSeedSameScenario(t *testing.T) {
	a := newTestState(t, WithSeed(7))
	b := newTestState(t, WithSeed(7))
	na, nb := a.Snapshot().Nodes, b.Snapshot().Nodes
	for i := range na {
		if na[i] != nb[i] {
			t.Fatalf("node %d differs: %+v vs %+v", i, na[i], nb[i])
		}
	}
}

func TestClosedScenarioRejectsWork(t *testing.T) {
	s := newTestState(t)
	s.Close()
	_, err := s.Send(context.Background(), transmit.Request{Payload: []byte("x")})
	if !errors.Is(err, ErrScenarioClosed) {
		t.Fatalf("Send() after Close error = %v, want ErrScenarioClosed", err)
	}
	if err := s.ClearScenario(context.Background()); !errors.Is(err, ErrScenarioClosed) {
		t.Fatalf("ClearScenario() after Close error = %v, want ErrScenarioClosed", err)
	}
}
