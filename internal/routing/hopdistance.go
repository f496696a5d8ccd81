package routing

import (
	"fmt"

	"github.com/signalsfoundry/meshroute/core"
	"github.com/signalsfoundry/meshroute/model"
	"github.com/yourbasic/graph"
)

// TopologyGraph materialises the static ring-of-rings adjacency as an
// unit-cost graph over plane-major node indices.
func TopologyGraph(shape model.Shape) *graph.Mutable {
	g := graph.New(shape.Size())
	for idx := 0; idx < shape.Size(); idx++ {
		for _, v := range core.Neighbors(shape, shape.At(idx)) {
			g.AddCost(idx, shape.Index(v), 1)
		}
	}
	return g
}

// HopDistance returns the minimum number of links between src and dst on
// the static topology, ignoring node state.
func HopDistance(shape model.Shape, src, dst model.NodeID) (int, error) {
	if shape.Planes < 1 || shape.Slots < 1 {
		return 0, fmt.Errorf("%w: %dx%d", ErrInvalidShape, shape.Planes, shape.Slots)
	}
	if !shape.Contains(src) || !shape.Contains(dst) {
		return 0, fmt.Errorf("%w: %s -> %s", ErrNodeOutOfRange, src, dst)
	}
	_, d := graph.ShortestPath(TopologyGraph(shape), shape.Index(src), shape.Index(dst))
	if d < 0 {
		return 0, fmt.Errorf("%w: %s -> %s", ErrUnreachableDestination, src, dst)
	}
	return int(d), nil
}
