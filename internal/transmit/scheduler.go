// Package transmit allocates payload fragments across evaluated routes and
// simulates their hop-by-hop delivery on the shared event queue.
package transmit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/meshroute/internal/logging"
	"github.com/signalsfoundry/meshroute/internal/sim/events"
	"github.com/signalsfoundry/meshroute/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/signalsfoundry/meshroute/internal/transmit"

// ErrNoRoutes is returned when Transmit is handed no evaluated routes.
var ErrNoRoutes = errors.New("no routes to transmit on")

// minThroughputMbps stands in for a zero route throughput so serialisation
// time stays finite.
const minThroughputMbps = 1e-5

// EventLoop is the slice of the event queue delivery needs.
type EventLoop interface {
	Now() time.Duration
	Schedule(at time.Duration, f func()) events.EventID
	Cancel(id events.EventID)
	RunWhile(cond func() bool) error
}

// Outcome labels a transmission for metrics.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeNoRoute   Outcome = "no_route"
	OutcomeFailed    Outcome = "failed"
	OutcomeEmpty     Outcome = "empty"
)

// MetricsRecorder receives transmission counters.
type MetricsRecorder interface {
	IncTransmissions(outcome string)
	AddRouteFragments(strategy string, n int)
}

// Result is what the scheduler produces for one transfer.
type Result struct {
	Routes   []RouteSummary
	Timeline []Event
	Start    time.Duration
	End      time.Duration
}

// Scheduler is the multipath transmission scheduler.
type Scheduler struct {
	loop    EventLoop
	log     logging.Logger
	metrics MetricsRecorder
}

// SchedulerOption customises a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l logging.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSchedulerMetrics sets the metrics recorder.
func WithSchedulerMetrics(m MetricsRecorder) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler returns a scheduler driving loop.
func NewScheduler(loop EventLoop, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{loop: loop, log: logging.Noop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// delivery is one fragment in flight along a route.
type delivery struct {
	route    model.CandidateRoute
	origin   model.NodeID
	fragment int
	hopDelay time.Duration
	next     int
	// step is the event that moves the fragment on; valid while armed.
	step     events.EventID
	armed    bool
}

// timeline collects events from delivery callbacks.
type timeline struct {
	mu        sync.Mutex
	events    []Event
	remaining int
}

func (t *timeline) emit(e Event) {
	t.mu.Lock()
	t.events = append(t.events, e)
	t.mu.Unlock()
}

func (t *timeline) done() {
	t.mu.Lock()
	t.remaining--
	t.mu.Unlock()
}

func (t *timeline) pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining > 0
}

// Transmit allocates fragments to routes by ratios and runs the event loop
// until every fragment has arrived. Routes must carry metrics. Fragment
// IDs in the timeline are global fragment indices, assigned to routes in
// route order. origin locates PACKET_START for zero-hop routes.
func (s *Scheduler) Transmit(ctx context.Context, origin model.NodeID, fragments [][]byte, routes []model.CandidateRoute, ratios []float64) (Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "transmit.Transmit")
	defer span.End()
	span.SetAttributes(attribute.Int("transmit.fragments", len(fragments)), attribute.Int("transmit.routes", len(routes)))

	fail := func(outcome Outcome, err error) (Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.record(outcome)
		return Result{}, err
	}

	if len(routes) == 0 {
		return fail(OutcomeNoRoute, ErrNoRoutes)
	}
	if len(ratios) != len(routes) {
		return fail(OutcomeFailed, fmt.Errorf("%w: %d ratios for %d routes", ErrInvalidAllocation, len(ratios), len(routes)))
	}
	counts, err := Allocate(ratios, len(fragments))
	if err != nil {
		return fail(OutcomeFailed, err)
	}

	for i, r := range routes {
		if counts[i] > 0 && r.Metrics == nil {
			return fail(OutcomeFailed, fmt.Errorf("route %d has not been evaluated", r.ID))
		}
	}

	start := s.loop.Now()
	tl := &timeline{events: []Event{}}
	res := Result{Routes: []RouteSummary{}, Start: start}
	inflight := make([]*delivery, 0, len(fragments))
	frag := 0
	for i, r := range routes {
		if counts[i] == 0 {
			continue
		}
		res.Routes = append(res.Routes, RouteSummary{
			RouteID:         r.ID,
			Path:            r.LinkNames(),
			Strategy:        r.Strategy,
			Hops:            r.Hops,
			AssignedPackets: counts[i],
			Ratio:           ratios[i],
			Color:           routePalette[i%len(routePalette)],
			Metrics:         r.Metrics,
		})
		for n := 0; n < counts[i]; n++ {
			d := &delivery{
				route:    r,
				origin:   origin,
				fragment: frag,
				hopDelay: hopDelay(*r.Metrics, len(r.Links), len(fragments[frag])),
			}
			tl.remaining++
			inflight = append(inflight, d)
			s.arm(d, start, func() { s.depart(tl, d) })
			frag++
		}
		if s.metrics != nil {
			s.metrics.AddRouteFragments(string(r.Strategy), counts[i])
		}
	}

	err = s.loop.RunWhile(func() bool {
		return ctx.Err() == nil && tl.pending()
	})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.abandon(inflight)
		return fail(OutcomeFailed, fmt.Errorf("delivery interrupted: %w", err))
	}

	res.Timeline = tl.events
	res.End = s.loop.Now()
	if len(fragments) == 0 {
		s.record(OutcomeEmpty)
	} else {
		s.record(OutcomeDelivered)
	}
	s.log.Debug(ctx, "transmission complete",
		logging.Int("fragments", len(fragments)),
		logging.Int("routes", len(res.Routes)),
		logging.Duration("simulated", res.End-res.Start),
	)
	return res, nil
}

// hopDelay divides the route delay evenly across its links and adds the
// fragment's serialisation time at the route throughput.
func hopDelay(m model.RouteMetrics, links, fragmentBytes int) time.Duration {
	if links == 0 {
		return 0
	}
	tp := m.Throughput
	if tp == 0 {
		tp = minThroughputMbps
	}
	serialization := float64(fragmentBytes*8) / (tp * 1e6)
	return seconds(m.Delay/float64(links) + serialization)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (s *Scheduler) depart(tl *timeline, d *delivery) {
	loc := d.origin
	if src, ok := d.route.Source(); ok {
		loc = src
	}
	tl.emit(Event{
		Time:       s.loop.Now().Seconds(),
		Type:       PacketStart,
		RouteID:    d.route.ID,
		FragmentID: d.fragment,
		Location:   loc.String(),
	})
	s.advance(tl, d)
}

// advance schedules the next hop arrival, or completes the delivery once
// every link has been traversed.
func (s *Scheduler) advance(tl *timeline, d *delivery) {
	if d.next >= len(d.route.Links) {
		tl.done()
		return
	}
	s.arm(d, s.loop.Now()+d.hopDelay, func() {
		link := d.route.Links[d.next]
		d.next++
		tl.emit(Event{
			Time:       s.loop.Now().Seconds(),
			Type:       PacketHop,
			RouteID:    d.route.ID,
			FragmentID: d.fragment,
			Location:   link.To.String(),
		})
		s.advance(tl, d)
	})
}

// arm schedules the next step of d and remembers its event ID.
func (s *Scheduler) arm(d *delivery, at time.Duration, f func()) {
	d.step = s.loop.Schedule(at, func() {
		d.armed = false
		f()
	})
	d.armed = true
}

// abandon cancels every step still queued for an interrupted transfer so
// a later Transmit on the same loop does not run them.
func (s *Scheduler) abandon(inflight []*delivery) {
	for _, d := range inflight {
		if d.armed {
			s.loop.Cancel(d.step)
			d.armed = false
		}
	}
}

func (s *Scheduler) record(o Outcome) {
	if s.metrics != nil {
		s.metrics.IncTransmissions(string(o))
	}
}
