package routing

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/meshroute/core"
	"github.com/signalsfoundry/meshroute/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrUnreachableDestination is reported by Path.Err when no path exists.
var ErrUnreachableDestination = errors.New("destination unreachable")

// Edge is a directed weighted link in the baseline graph.
type Edge struct {
	To     model.NodeID
	Weight float64
}

// Graph is a snapshot of the constellation adjacency weighted by the
// single-link path delay at build time. Down links are left out.
type Graph struct {
	Shape model.Shape
	Edges [][]Edge // indexed by Shape.Index of the tail node
}

// NumEdges returns the number of directed edges.
func (g *Graph) NumEdges() int {
	n := 0
	for _, es := range g.Edges {
		n += len(es)
	}
	return n
}

// Path is the baseline result. Cost is +Inf when Found is false.
type Path struct {
	Nodes []model.NodeID
	Cost  float64
	Found bool
}

// Hops returns the number of links on the path.
func (p Path) Hops() int {
	if len(p.Nodes) == 0 {
		return 0
	}
	return len(p.Nodes) - 1
}

// Links returns the path as consecutive links.
func (p Path) Links() []model.Link {
	if len(p.Nodes) < 2 {
		return nil
	}
	out := make([]model.Link, 0, len(p.Nodes)-1)
	for i := 1; i < len(p.Nodes); i++ {
		out = append(out, model.Link{From: p.Nodes[i-1], To: p.Nodes[i]})
	}
	return out
}

// Err returns ErrUnreachableDestination for a path that was not found.
func (p Path) Err() error {
	if p.Found {
		return nil
	}
	return ErrUnreachableDestination
}

// BaselineRouter is the Dijkstra shortest-path comparison router.
type BaselineRouter struct {
	Shape model.Shape
	Links LinkQuerier
}

// NewBaselineRouter returns a baseline router over the given shape.
func NewBaselineRouter(shape model.Shape, links LinkQuerier) *BaselineRouter {
	return &BaselineRouter{Shape: shape, Links: links}
}

// BuildGraph queries every static adjacency once and records the live
// path delay as the edge weight.
func (b *BaselineRouter) BuildGraph() (*Graph, error) {
	if b.Shape.Planes < 1 || b.Shape.Slots < 1 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidShape, b.Shape.Planes, b.Shape.Slots)
	}
	g := &Graph{Shape: b.Shape, Edges: make([][]Edge, b.Shape.Size())}
	for idx := range g.Edges {
		u := b.Shape.At(idx)
		for _, v := range core.Neighbors(b.Shape, u) {
			m, err := b.Links.LinkMetrics(u, v)
			if err != nil {
				return nil, fmt.Errorf("link %s-%s: %w", u, v, err)
			}
			if m.Down {
				continue
			}
			g.Edges[idx] = append(g.Edges[idx], Edge{To: v, Weight: m.PathDelay()})
		}
	}
	return g, nil
}

// ShortestPath builds a fresh graph and runs Dijkstra from src to dst. An
// unreachable destination is not an error: the returned Path has Found
// false and infinite cost.
func (b *BaselineRouter) ShortestPath(ctx context.Context, src, dst model.NodeID) (Path, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "routing.ShortestPath",
		trace.WithAttributes(
			attribute.String("route.src", src.String()),
			attribute.String("route.dst", dst.String()),
		))
	defer span.End()

	if !b.Shape.Contains(src) {
		return Path{Cost: math.Inf(1)}, fmt.Errorf("%w: source %s", ErrNodeOutOfRange, src)
	}
	if !b.Shape.Contains(dst) {
		return Path{Cost: math.Inf(1)}, fmt.Errorf("%w: destination %s", ErrNodeOutOfRange, dst)
	}
	g, err := b.BuildGraph()
	if err != nil {
		span.RecordError(err)
		return Path{Cost: math.Inf(1)}, err
	}
	p := Dijkstra(g, src, dst)
	span.SetAttributes(attribute.Bool("route.found", p.Found), attribute.Int("route.hops", p.Hops()))
	return p, nil
}

// Dijkstra runs a lazy-deletion Dijkstra over g. Every node is settled at
// most once so the search terminates in O(E log V).
func Dijkstra(g *Graph, src, dst model.NodeID) Path {
	n := g.Shape.Size()
	dist := make([]float64, n)
	prev := make([]int, n)
	settled := make([]bool, n)
	for i := range dist {
		dist[i] = math.Inf(1)
		prev[i] = -1
	}

	s, t := g.Shape.Index(src), g.Shape.Index(dst)
	dist[s] = 0
	pq := &frontier{}
	heap.Push(pq, &frontierItem{node: s, cost: 0})

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*frontierItem)
		u := item.node
		if settled[u] {
			continue
		}
		settled[u] = true
		if u == t {
			break
		}
		for _, e := range g.Edges[u] {
			v := g.Shape.Index(e.To)
			if settled[v] {
				continue
			}
			if alt := dist[u] + e.Weight; alt < dist[v] {
				dist[v] = alt
				prev[v] = u
				heap.Push(pq, &frontierItem{node: v, cost: alt})
			}
		}
	}

	if math.IsInf(dist[t], 1) {
		return Path{Cost: math.Inf(1)}
	}
	var rev []model.NodeID
	for at := t; at != -1; at = prev[at] {
		rev = append(rev, g.Shape.At(at))
	}
	nodes := make([]model.NodeID, len(rev))
	for i, id := range rev {
		nodes[len(rev)-1-i] = id
	}
	return Path{Nodes: nodes, Cost: dist[t], Found: true}
}

type frontierItem struct {
	node int
	cost float64
}

type frontier []*frontierItem

func (f frontier) Len() int           { return len(f) }
func (f frontier) Less(i, j int) bool { return f[i].cost < f[j].cost }
func (f frontier) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }

func (f *frontier) Push(x any) {
	*f = append(*f, x.(*frontierItem))
}

func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	item := old[n-1]
	*f = old[:n-1]
	return item
}
