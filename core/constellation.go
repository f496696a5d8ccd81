package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/signalsfoundry/meshroute/internal/logging"
	"github.com/signalsfoundry/meshroute/internal/sim/events"
	"github.com/signalsfoundry/meshroute/model"
)

// ErrNodeNotFound indicates a node ID outside the constellation shape.
var ErrNodeNotFound = errors.New("node not found")

// FailedCapacityMbps is the residual capacity of a failed node.
const FailedCapacityMbps = 1e-6

// Scheduler is the slice of the event queue the constellation needs to
// drive per-node state evolution.
type Scheduler interface {
	Now() time.Duration
	Schedule(at time.Duration, f func()) events.EventID
	Cancel(id events.EventID)
}

// MetricsRecorder receives aggregate node state after every mutation.
type MetricsRecorder interface {
	SetNodeState(active int, meanLoad float64)
	IncNodeFaults()
	IncRecoveries()
	IncLinkQueries(down bool)
}

// Node is a read-only snapshot of one satellite.
type Node struct {
	ID                model.NodeID `json:"id"`
	Load              float64      `json:"load"`
	AvailableCapacity float64      `json:"available_capacity"`
	MaxCapacity       float64      `json:"max_capacity"`
	Active            bool         `json:"active"`
}

type nodeState struct {
	load     float64
	capacity float64
	active   bool
	next     events.EventID
}

// Constellation is the ConstellationSimulator: it exclusively owns every
// node's mutable state, evolves it on the shared event queue, answers
// link metric queries and applies operator fault injection.
type Constellation struct {
	cfg   Config
	sched Scheduler

	mu      sync.Mutex
	rng     *rand.Rand
	// jitter feeds link-distance noise only, so queries never shift the
	// node-state trajectory drawn from rng.
	jitter  *rand.Rand
	nodes   []nodeState
	loadSum float64
	active  int
	started bool

	log     logging.Logger
	metrics MetricsRecorder
}

// Option customises Constellation construction.
type Option func(*Constellation)

// WithLogger attaches a structured logger for fault and recovery events.
func WithLogger(l logging.Logger) Option {
	return func(c *Constellation) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetricsRecorder attaches an optional recorder for node gauges.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(c *Constellation) {
		c.metrics = m
	}
}

// NewConstellation builds one node per plane×slot with a random baseline
// load and full capacity. Nodes do not evolve until Start is called.
func NewConstellation(cfg Config, sched Scheduler, opts ...Option) (*Constellation, error) {
	cfg = cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, fmt.Errorf("%w: nil scheduler", ErrInvalidConfig)
	}

	c := &Constellation{
		cfg:    cfg,
		sched:  sched,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		jitter: rand.New(rand.NewPCG(cfg.Seed^0xd1b54a32d192ed03, cfg.Seed+0x2545f4914f6cdd1d)),
		nodes:  make([]nodeState, cfg.Shape.Size()),
		log:    logging.Noop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	for i := range c.nodes {
		c.nodes[i] = nodeState{
			load:     c.baselineLoadLocked(),
			capacity: cfg.MaxCapacityMbps,
			active:   true,
		}
	}
	c.recountLocked()
	c.publishLocked()
	return c, nil
}

// Shape returns the constellation geometry.
func (c *Constellation) Shape() model.Shape { return c.cfg.Shape }

// Config returns the effective configuration.
func (c *Constellation) Config() Config { return c.cfg }

// Now returns the current simulated time.
func (c *Constellation) Now() time.Duration { return c.sched.Now() }

// Start schedules the first state evolution of every node. Calling Start
// twice is a no-op.
func (c *Constellation) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	for i := range c.nodes {
		c.scheduleEvolutionLocked(i)
	}
}

// Stop cancels every pending evolution event.
func (c *Constellation) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	c.started = false
	for i := range c.nodes {
		c.sched.Cancel(c.nodes[i].next)
		c.nodes[i].next = 0
	}
}

func (c *Constellation) scheduleEvolutionLocked(idx int) {
	at := c.sched.Now() + c.evolveIntervalLocked()
	c.nodes[idx].next = c.sched.Schedule(at, func() { c.evolve(idx) })
}

func (c *Constellation) evolveIntervalLocked() time.Duration {
	span := int((c.cfg.EvolveMax - c.cfg.EvolveMin) / time.Second)
	if span <= 0 {
		return c.cfg.EvolveMin
	}
	return c.cfg.EvolveMin + time.Duration(c.rng.IntN(span+1))*time.Second
}

// evolve perturbs one node's load and recomputes its capacity, then
// reschedules itself. Failed nodes keep their cadence but hold their
// failed state until RecoverAll.
func (c *Constellation) evolve(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}

	n := &c.nodes[idx]
	if n.active {
		delta := c.uniformLocked(-c.cfg.LoadDelta, c.cfg.LoadDelta)
		load := clamp01(n.load + delta)
		c.loadSum += load - n.load
		n.load = load
		n.capacity = c.cfg.MaxCapacityMbps * (1 - load*c.cfg.DampingFactor)
		c.publishLocked()
	}
	c.scheduleEvolutionLocked(idx)
}

// Node returns a snapshot of id.
func (c *Constellation) Node(id model.NodeID) (Node, error) {
	if !c.cfg.Shape.Contains(id) {
		return Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(c.cfg.Shape.Index(id)), nil
}

// Snapshot returns every node in plane-major order.
func (c *Constellation) Snapshot() []Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Node, len(c.nodes))
	for i := range c.nodes {
		out[i] = c.snapshotLocked(i)
	}
	return out
}

func (c *Constellation) snapshotLocked(idx int) Node {
	n := c.nodes[idx]
	return Node{
		ID:                c.cfg.Shape.At(idx),
		Load:              n.load,
		AvailableCapacity: n.capacity,
		MaxCapacity:       c.cfg.MaxCapacityMbps,
		Active:            n.active,
	}
}

// Neighbors returns the static ring-of-rings adjacency of id: the two
// intra-plane neighbours followed by the two inter-plane neighbours, with
// duplicates and id itself removed for degenerate shapes.
func (c *Constellation) Neighbors(id model.NodeID) []model.NodeID {
	return Neighbors(c.cfg.Shape, id)
}

// Neighbors is the shape-only form of Constellation.Neighbors.
func Neighbors(shape model.Shape, id model.NodeID) []model.NodeID {
	candidates := [4]model.NodeID{
		shape.Step(id, 0, -1),
		shape.Step(id, 0, 1),
		shape.Step(id, -1, 0),
		shape.Step(id, 1, 0),
	}
	out := make([]model.NodeID, 0, 4)
	for _, n := range candidates {
		if n == id {
			continue
		}
		dup := false
		for _, seen := range out {
			if seen == n {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, n)
		}
	}
	return out
}

// FailNode forces id out of service: capacity drops to FailedCapacityMbps,
// load to 1 and every link touching it reports down. Failing an already
// failed node is a no-op.
func (c *Constellation) FailNode(ctx context.Context, id model.NodeID) error {
	if !c.cfg.Shape.Contains(id) {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	n := &c.nodes[c.cfg.Shape.Index(id)]
	if !n.active {
		return nil
	}
	c.loadSum += 1 - n.load
	n.load = 1
	n.capacity = FailedCapacityMbps
	n.active = false
	c.active--
	c.publishLocked()
	if c.metrics != nil {
		c.metrics.IncNodeFaults()
	}
	c.log.Warn(ctx, "node failed", logging.Stringer("node", id))
	return nil
}

// RecoverAll restores every node to active service with a fresh baseline
// load and full capacity.
func (c *Constellation) RecoverAll(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.nodes {
		c.nodes[i].load = c.baselineLoadLocked()
		c.nodes[i].capacity = c.cfg.MaxCapacityMbps
		c.nodes[i].active = true
	}
	c.recountLocked()
	c.publishLocked()
	if c.metrics != nil {
		c.metrics.IncRecoveries()
	}
	c.log.Info(ctx, "constellation recovered", logging.Int("nodes", len(c.nodes)))
}

// RandomNode draws a node uniformly from the constellation using the
// simulator's seeded source.
func (c *Constellation) RandomNode() model.NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Shape.At(c.rng.IntN(len(c.nodes)))
}

// Float64 draws from the simulator's seeded source. Drivers use it for
// probabilistic fault injection so a whole run shares one seed.
func (c *Constellation) Float64() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.Float64()
}

func (c *Constellation) baselineLoadLocked() float64 {
	return c.uniformLocked(c.cfg.InitialLoadMin, c.cfg.InitialLoadMax)
}

func (c *Constellation) uniformLocked(lo, hi float64) float64 {
	return lo + (hi-lo)*c.rng.Float64()
}

func (c *Constellation) jitterLocked(bound float64) float64 {
	return -bound + 2*bound*c.jitter.Float64()
}

func (c *Constellation) recountLocked() {
	c.loadSum = 0
	c.active = 0
	for _, n := range c.nodes {
		c.loadSum += n.load
		if n.active {
			c.active++
		}
	}
}

func (c *Constellation) publishLocked() {
	if c.metrics == nil || len(c.nodes) == 0 {
		return
	}
	c.metrics.SetNodeState(c.active, c.loadSum/float64(len(c.nodes)))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
