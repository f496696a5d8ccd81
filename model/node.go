package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadNodeID is returned when a node identifier cannot be parsed.
var ErrBadNodeID = errors.New("invalid node ID")

// NodeID identifies a satellite by its orbital plane and its slot
// within that plane.
type NodeID struct {
	Plane int `json:"plane"`
	Slot  int `json:"slot"`
}

// String renders the canonical "S{plane}_{slot}" form used in link
// identifiers and timeline locations.
func (n NodeID) String() string {
	return "S" + strconv.Itoa(n.Plane) + "_" + strconv.Itoa(n.Slot)
}

// Label renders the compact "P{plane}S{slot}" form used in benchmark logs
// and request parameters.
func (n NodeID) Label() string {
	return fmt.Sprintf("P%dS%d", n.Plane, n.Slot)
}

// ParseNodeID accepts either "S{plane}_{slot}" or "P{plane}S{slot}".
func ParseNodeID(s string) (NodeID, error) {
	s = strings.TrimSpace(s)
	var plane, slot string
	switch {
	case strings.HasPrefix(s, "S") && strings.Contains(s, "_"):
		plane, slot, _ = strings.Cut(s[1:], "_")
	case strings.HasPrefix(s, "P") && strings.Contains(s, "S"):
		plane, slot, _ = strings.Cut(s[1:], "S")
	default:
		return NodeID{}, fmt.Errorf("%w: %q", ErrBadNodeID, s)
	}
	p, err := strconv.Atoi(plane)
	if err != nil || p < 0 {
		return NodeID{}, fmt.Errorf("%w: %q", ErrBadNodeID, s)
	}
	sl, err := strconv.Atoi(slot)
	if err != nil || sl < 0 {
		return NodeID{}, fmt.Errorf("%w: %q", ErrBadNodeID, s)
	}
	return NodeID{Plane: p, Slot: sl}, nil
}

// Shape is the constellation geometry: Planes orbital rings with Slots
// satellites in each.
type Shape struct {
	Planes int `json:"planes" yaml:"planes"`
	Slots  int `json:"slots" yaml:"slots"`
}

// Size returns the total number of nodes.
func (s Shape) Size() int { return s.Planes * s.Slots }

// Contains reports whether id addresses a node in this shape.
func (s Shape) Contains(id NodeID) bool {
	return id.Plane >= 0 && id.Plane < s.Planes && id.Slot >= 0 && id.Slot < s.Slots
}

// Index maps id to its position in a flat plane-major arena.
func (s Shape) Index(id NodeID) int { return id.Plane*s.Slots + id.Slot }

// At is the inverse of Index.
func (s Shape) At(idx int) NodeID {
	return NodeID{Plane: idx / s.Slots, Slot: idx % s.Slots}
}

// Step moves id by dPlane planes and dSlot slots, wrapping both rings.
func (s Shape) Step(id NodeID, dPlane, dSlot int) NodeID {
	return NodeID{
		Plane: wrap(id.Plane+dPlane, s.Planes),
		Slot:  wrap(id.Slot+dSlot, s.Slots),
	}
}

func wrap(v, n int) int {
	v %= n
	if v < 0 {
		v += n
	}
	return v
}
