// internal/sim/state/state.go
package state

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/signalsfoundry/meshroute/core"
	"github.com/signalsfoundry/meshroute/internal/benchmark"
	"github.com/signalsfoundry/meshroute/internal/config"
	"github.com/signalsfoundry/meshroute/internal/logging"
	"github.com/signalsfoundry/meshroute/internal/monitor"
	"github.com/signalsfoundry/meshroute/internal/policy"
	"github.com/signalsfoundry/meshroute/internal/routing"
	"github.com/signalsfoundry/meshroute/internal/sim/events"
	"github.com/signalsfoundry/meshroute/internal/transmit"
	"github.com/signalsfoundry/meshroute/model"
)

// ErrScenarioClosed is returned by operations on a closed scenario.
var ErrScenarioClosed = errors.New("scenario closed")

// ScenarioState owns one simulation: the event queue, the constellation
// evolving on it, and the routers and transmitter reading from it.
type ScenarioState struct {
	// mu serialises every operation that drives the queue. The queue has a
	// single clock so two transmissions must never interleave.
	mu sync.Mutex

	cfg    config.Config
	queue  *events.Queue
	sim    *core.Constellation
	router *routing.Router
	base   *routing.BaselineRouter
	tx     *transmit.Transmitter
	closed bool

	log           logging.Logger
	nodeMetrics   core.MetricsRecorder
	txMetrics     transmit.MetricsRecorder
	observeRoutes func(routing.EvalOutcome)
	observeDecide func(time.Duration)
}

// ScenarioSnapshot is a consistent copy of node state at one instant.
type ScenarioSnapshot struct {
	Now   time.Duration `json:"now"`
	Shape model.Shape   `json:"shape"`
	Nodes []core.Node   `json:"nodes"`
}

// ScenarioStateOption customises ScenarioState construction.
type ScenarioStateOption func(*ScenarioState)

// WithMetricsRecorder attaches a recorder for node gauges and link queries.
func WithMetricsRecorder(m core.MetricsRecorder) ScenarioStateOption {
	return func(s *ScenarioState) {
		s.nodeMetrics = m
	}
}

// WithTransmitMetrics attaches a recorder for transmission outcomes.
func WithTransmitMetrics(m transmit.MetricsRecorder) ScenarioStateOption {
	return func(s *ScenarioState) {
		s.txMetrics = m
	}
}

// WithRouteObserver receives the outcome of every route evaluation.
func WithRouteObserver(fn func(routing.EvalOutcome)) ScenarioStateOption {
	return func(s *ScenarioState) {
		s.observeRoutes = fn
	}
}

// WithDecisionObserver receives the duration of every routing decision.
func WithDecisionObserver(fn func(time.Duration)) ScenarioStateOption {
	return func(s *ScenarioState) {
		s.observeDecide = fn
	}
}

// WithSeed overrides the constellation seed.
func WithSeed(seed uint64) ScenarioStateOption {
	return func(s *ScenarioState) {
		s.cfg.Constellation.Seed = seed
	}
}

// NewScenarioState builds and starts a simulation at t=0.
func NewScenarioState(cfg config.Config, log logging.Logger, opts ...ScenarioStateOption) (*ScenarioState, error) {
	if log == nil {
		log = logging.Noop()
	}
	s := &ScenarioState{cfg: cfg, log: log}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if err := s.buildLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ScenarioState) buildLocked() error {
	queue := events.NewQueue()
	simOpts := []core.Option{core.WithLogger(s.log)}
	if s.nodeMetrics != nil {
		simOpts = append(simOpts, core.WithMetricsRecorder(s.nodeMetrics))
	}
	sim, err := core.NewConstellation(s.cfg.Constellation, queue, simOpts...)
	if err != nil {
		return err
	}

	router := routing.NewRouter(sim.Shape(), sim)
	router.Finder = s.cfg.NewFinder()
	router.Evaluator.Throughput = s.cfg.ThroughputModel()
	router.Evaluator.Observe = s.observeRoutes
	router.ObserveDecision = s.observeDecide

	pol, err := policy.ByName(s.cfg.Transmission.Policy)
	if err != nil {
		return err
	}
	schedOpts := []transmit.SchedulerOption{transmit.WithSchedulerLogger(s.log)}
	if s.txMetrics != nil {
		schedOpts = append(schedOpts, transmit.WithSchedulerMetrics(s.txMetrics))
	}

	sim.Start()
	s.queue = queue
	s.sim = sim
	s.router = router
	s.base = routing.NewBaselineRouter(sim.Shape(), sim)
	s.tx = &transmit.Transmitter{
		Router:    router,
		Policy:    pol,
		Scheduler: transmit.NewScheduler(queue, schedOpts...),
		ChunkSize: s.cfg.Transmission.ChunkSize,
		Log:       s.log,
	}
	return nil
}

// Config returns the configuration the scenario was built from.
func (s *ScenarioState) Config() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Constellation exposes the simulator. Callers that mutate it while a
// transmission runs must go through WithLock.
func (s *ScenarioState) Constellation() *core.Constellation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sim
}

// Router exposes the multipath router.
func (s *ScenarioState) Router() *routing.Router {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.router
}

// WithLock runs fn while holding the scenario lock. fn must not call
// other ScenarioState methods.
func (s *ScenarioState) WithLock(fn func() error) error {
	if fn == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrScenarioClosed
	}
	return fn()
}

// Send runs one transmission on the scenario clock.
func (s *ScenarioState) Send(ctx context.Context, req transmit.Request) (*transmit.Response, error) {
	var resp *transmit.Response
	err := s.WithLock(func() error {
		var err error
		resp, err = s.tx.Send(ctx, req)
		return err
	})
	return resp, err
}

// Routes returns the current routing decision for src→dst.
func (s *ScenarioState) Routes(ctx context.Context, src, dst model.NodeID) (routing.Decision, error) {
	var d routing.Decision
	err := s.WithLock(func() error {
		var err error
		d, err = s.router.FindBestRoutes(ctx, src, dst)
		return err
	})
	return d, err
}

// Benchmark runs trials against this scenario. log may be nil.
func (s *ScenarioState) Benchmark(ctx context.Context, trials int, log *monitor.BenchmarkLog) (benchmark.Result, error) {
	var res benchmark.Result
	err := s.WithLock(func() error {
		r := benchmark.NewRunner(s.cfg.Benchmark, s.sim, s.queue)
		r.Router = s.router
		r.Baseline = s.base
		r.Logger = s.log
		if p, err := policy.ByName(s.cfg.Transmission.Policy); err == nil {
			r.Policy = p
		}
		r.Log = log
		var err error
		res, err = r.Run(ctx, trials)
		return err
	})
	return res, err
}

// Snapshot copies node state.
func (s *ScenarioState) Snapshot() ScenarioSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ScenarioSnapshot{
		Now:   s.sim.Now(),
		Shape: s.sim.Shape(),
		Nodes: s.sim.Snapshot(),
	}
}

// ClearScenario discards the simulation and starts a fresh one at t=0.
func (s *ScenarioState) ClearScenario(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrScenarioClosed
	}
	s.sim.Stop()
	if err := s.buildLocked(); err != nil {
		return err
	}
	s.log.Info(ctx, "scenario cleared")
	return nil
}

// Close stops node evolution. Further operations fail.
func (s *ScenarioState) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.sim.Stop()
	s.closed = true
}
