package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/meshroute/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/signalsfoundry/meshroute/internal/routing"

// ErrNoRouteFound is returned when the path finder yields no candidates or
// every candidate crosses a down link.
var ErrNoRouteFound = errors.New("no route found")

// Decision is the output of one routing decision: the surviving evaluated
// routes plus the policy inputs derived from them.
type Decision struct {
	Routes    []model.CandidateRoute
	Features  [][]float64
	Adjacency [][]float64
}

// Router chains the orbital path finder and the route evaluator.
type Router struct {
	Finder    *OrbitalPathFinder
	Evaluator *RouteEvaluator
	// ObserveDecision, when set, receives the wall-clock duration of every
	// decision that produced routes.
	ObserveDecision func(time.Duration)
}

// NewRouter wires a finder over shape to an evaluator over links.
func NewRouter(shape model.Shape, links LinkQuerier) *Router {
	return &Router{
		Finder:    NewOrbitalPathFinder(shape),
		Evaluator: NewRouteEvaluator(links),
	}
}

// FindBestRoutes proposes candidates for src→dst, evaluates them against
// current link state and returns the survivors with their policy features.
func (r *Router) FindBestRoutes(ctx context.Context, src, dst model.NodeID) (Decision, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "routing.FindBestRoutes",
		trace.WithAttributes(
			attribute.String("route.src", src.String()),
			attribute.String("route.dst", dst.String()),
		))
	defer span.End()
	began := time.Now()

	candidates, err := r.Finder.Find(src, dst)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Decision{}, err
	}
	if len(candidates) == 0 {
		span.SetStatus(codes.Error, ErrNoRouteFound.Error())
		return Decision{}, fmt.Errorf("%w: %s -> %s", ErrNoRouteFound, src, dst)
	}

	routes, err := r.Evaluator.Evaluate(candidates)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Decision{}, err
	}
	span.SetAttributes(
		attribute.Int("route.candidates", len(candidates)),
		attribute.Int("route.accepted", len(routes)),
	)
	if len(routes) == 0 {
		span.SetStatus(codes.Error, ErrNoRouteFound.Error())
		return Decision{}, fmt.Errorf("%w: all %d candidates cross a down link", ErrNoRouteFound, len(candidates))
	}

	d := Decision{
		Routes:    routes,
		Features:  Features(routes),
		Adjacency: Adjacency(routes),
	}
	if r.ObserveDecision != nil {
		r.ObserveDecision(time.Since(began))
	}
	return d, nil
}
