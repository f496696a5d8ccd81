package routing

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/meshroute/core"
	"github.com/signalsfoundry/meshroute/model"
)

// LinkQuerier answers live link metric queries. *core.Constellation
// satisfies it.
type LinkQuerier interface {
	LinkMetrics(u, v model.NodeID) (core.LinkMetrics, error)
}

// ThroughputModel selects how per-link throughput folds into a route
// figure.
type ThroughputModel int

const (
	// ThroughputMax reports the highest link throughput on the route.
	ThroughputMax ThroughputModel = iota
	// ThroughputBottleneck reports the lowest, the classic bottleneck.
	ThroughputBottleneck
)

// String implements fmt.Stringer.
func (m ThroughputModel) String() string {
	if m == ThroughputBottleneck {
		return "bottleneck"
	}
	return "max"
}

// ParseThroughputModel accepts "max" (or empty) and "bottleneck".
func ParseThroughputModel(s string) (ThroughputModel, error) {
	switch s {
	case "", "max":
		return ThroughputMax, nil
	case "bottleneck", "min":
		return ThroughputBottleneck, nil
	}
	return ThroughputMax, fmt.Errorf("unknown throughput model %q", s)
}

// EvalOutcome classifies a single route evaluation.
type EvalOutcome string

const (
	EvalAccepted EvalOutcome = "accepted"
	EvalLinkDown EvalOutcome = "link_down"
	EvalError    EvalOutcome = "error"
)

// RouteEvaluator scores candidate routes against live link metrics.
type RouteEvaluator struct {
	Links      LinkQuerier
	Throughput ThroughputModel
	// Observe, when set, is called once per evaluated route.
	Observe func(EvalOutcome)
}

// NewRouteEvaluator returns an evaluator using the max-throughput model.
func NewRouteEvaluator(links LinkQuerier) *RouteEvaluator {
	return &RouteEvaluator{Links: links}
}

// EvaluateRoute aggregates metrics for one route. ok is false when any
// link is down; the route must then be discarded. A zero-hop route
// evaluates to all-zero metrics.
func (e *RouteEvaluator) EvaluateRoute(r model.CandidateRoute) (model.RouteMetrics, bool, error) {
	var (
		delay   float64
		tp      float64
		maxLoad float64
	)
	for i, l := range r.Links {
		m, err := e.Links.LinkMetrics(l.From, l.To)
		if err != nil {
			return model.RouteMetrics{}, false, fmt.Errorf("link %s: %w", l, err)
		}
		if m.Down {
			return model.RouteMetrics{}, false, nil
		}
		delay += m.PathDelay()
		switch {
		case i == 0:
			tp = m.Throughput
		case e.Throughput == ThroughputBottleneck:
			tp = math.Min(tp, m.Throughput)
		default:
			tp = math.Max(tp, m.Throughput)
		}
		maxLoad = math.Max(maxLoad, m.Load)
	}
	return model.RouteMetrics{Delay: delay, Throughput: tp, MaxLoad: maxLoad}, true, nil
}

// Evaluate scores every candidate and returns the survivors in input
// order, each carrying its metrics. Routes with a down link are dropped
// with no partial fallback.
func (e *RouteEvaluator) Evaluate(routes []model.CandidateRoute) ([]model.CandidateRoute, error) {
	out := make([]model.CandidateRoute, 0, len(routes))
	for _, r := range routes {
		m, ok, err := e.EvaluateRoute(r)
		switch {
		case err != nil:
			e.observe(EvalError)
			return nil, err
		case !ok:
			e.observe(EvalLinkDown)
			continue
		}
		e.observe(EvalAccepted)
		out = append(out, r.WithMetrics(m))
	}
	return out, nil
}

func (e *RouteEvaluator) observe(o EvalOutcome) {
	if e.Observe != nil {
		e.Observe(o)
	}
}
