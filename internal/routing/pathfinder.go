// Package routing derives candidate multi-hop routes across a Walker-style
// constellation, scores them against live link metrics and provides a
// Dijkstra baseline for comparison.
package routing

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/signalsfoundry/meshroute/core"
	"github.com/signalsfoundry/meshroute/model"
)

var (
	// ErrInvalidShape indicates a constellation with no planes or slots.
	ErrInvalidShape = errors.New("invalid constellation shape")
	// ErrNodeOutOfRange indicates a source or destination outside the shape.
	ErrNodeOutOfRange = errors.New("node out of range")
)

const (
	// DefaultK is the number of candidates returned when K is unset.
	DefaultK = 3
	// DefaultPhase is the Walker phasing factor F.
	DefaultPhase = 1
)

// OrbitalPathFinder computes candidate routes in closed form from orbital
// indices alone. It is stateless and safe for concurrent use.
type OrbitalPathFinder struct {
	Shape model.Shape
	// K caps how many candidates Find returns. Values <= 0 mean DefaultK;
	// values above the four cardinal strategies are capped at four.
	K int
	// Phase is the inter-plane phasing factor. Zero means DefaultPhase.
	Phase int
}

// HopCounts holds the horizontal and per-strategy vertical hop counts.
type HopCounts struct {
	East, West int
	Vertical   map[model.Strategy]int
}

// Horizontal returns the inter-plane hop count for strategy s.
func (h HopCounts) Horizontal(s model.Strategy) int {
	if s.East() {
		return h.East
	}
	return h.West
}

// Total returns horizontal plus vertical hops for strategy s.
func (h HopCounts) Total(s model.Strategy) int {
	return h.Horizontal(s) + h.Vertical[s]
}

// NewOrbitalPathFinder returns a finder with default K and phase.
func NewOrbitalPathFinder(shape model.Shape) *OrbitalPathFinder {
	return &OrbitalPathFinder{Shape: shape, K: DefaultK, Phase: DefaultPhase}
}

func (f *OrbitalPathFinder) k() int {
	switch {
	case f.K <= 0:
		return DefaultK
	case f.K > len(model.Strategies):
		return len(model.Strategies)
	}
	return f.K
}

func (f *OrbitalPathFinder) phase() int {
	if f.Phase == 0 {
		return DefaultPhase
	}
	return f.Phase
}

func (f *OrbitalPathFinder) validate(src, dst model.NodeID) error {
	if f.Shape.Planes < 1 || f.Shape.Slots < 1 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidShape, f.Shape.Planes, f.Shape.Slots)
	}
	if !f.Shape.Contains(src) {
		return fmt.Errorf("%w: source %s", ErrNodeOutOfRange, src)
	}
	if !f.Shape.Contains(dst) {
		return fmt.Errorf("%w: destination %s", ErrNodeOutOfRange, dst)
	}
	return nil
}

// Hops evaluates the closed-form hop counts for src→dst.
func (f *OrbitalPathFinder) Hops(src, dst model.NodeID) (HopCounts, error) {
	if err := f.validate(src, dst); err != nil {
		return HopCounts{}, err
	}
	np, ns := f.Shape.Planes, f.Shape.Slots

	raan := core.WrapAngle(core.PlaneAngle(dst.Plane, np) - core.PlaneAngle(src.Plane, np))
	omega := core.TwoPi / float64(np)
	east := core.MathRound(raan / omega)
	west := core.MathRound((core.TwoPi - raan) / omega)

	phaseStep := core.TwoPi * float64(f.phase()) / float64(np*ns)
	latDelta := core.SlotAngle(dst.Slot, ns) - core.SlotAngle(src.Slot, ns)
	eastLat := core.WrapAngle(latDelta - float64(east)*phaseStep)
	westLat := core.WrapAngle(latDelta + float64(west)*phaseStep)

	phi := core.TwoPi / float64(ns)
	slotHops := func(a float64) int { return core.MathRound(math.Abs(a / phi)) }

	return HopCounts{
		East: east,
		West: west,
		Vertical: map[model.Strategy]int{
			model.NorthWest: slotHops(westLat),
			model.SouthWest: slotHops(core.TwoPi - westLat),
			model.NorthEast: slotHops(eastLat),
			model.SouthEast: slotHops(core.TwoPi - eastLat),
		},
	}, nil
}

// Find returns the top-K candidates ranked by total hop count, ties broken
// by NW, SW, NE, SE precedence. Route IDs are 1-based in rank order. When
// src equals dst the north-east strategy is a zero-hop route with an empty
// link list and ranks first.
func (f *OrbitalPathFinder) Find(src, dst model.NodeID) ([]model.CandidateRoute, error) {
	hops, err := f.Hops(src, dst)
	if err != nil {
		return nil, err
	}
	order := make([]model.Strategy, len(model.Strategies))
	copy(order, model.Strategies)
	sort.SliceStable(order, func(i, j int) bool {
		return hops.Total(order[i]) < hops.Total(order[j])
	})

	k := f.k()
	out := make([]model.CandidateRoute, 0, k)
	for i, s := range order[:k] {
		h, v := hops.Horizontal(s), hops.Vertical[s]
		out = append(out, model.CandidateRoute{
			ID:       i + 1,
			Strategy: s,
			Hops:     h + v,
			Links:    f.walk(src, s, h, v),
		})
	}
	return out, nil
}

// walk materialises the link list: horizontal steps first, then vertical.
func (f *OrbitalPathFinder) walk(src model.NodeID, s model.Strategy, h, v int) []model.Link {
	dPlane, dSlot := -1, -1
	if s.East() {
		dPlane = 1
	}
	if s.North() {
		dSlot = 1
	}
	links := make([]model.Link, 0, h+v)
	cur := src
	for i := 0; i < h; i++ {
		next := f.Shape.Step(cur, dPlane, 0)
		links = append(links, model.Link{From: cur, To: next})
		cur = next
	}
	for i := 0; i < v; i++ {
		next := f.Shape.Step(cur, 0, dSlot)
		links = append(links, model.Link{From: cur, To: next})
		cur = next
	}
	return links
}
