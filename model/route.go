package model

import (
	"fmt"
	"strings"
)

// Strategy names one of the four cardinal route shapes: a horizontal
// (east/west, inter-plane) leg followed by a vertical (north/south,
// intra-plane) leg.
type Strategy string

const (
	NorthWest Strategy = "NW"
	SouthWest Strategy = "SW"
	NorthEast Strategy = "NE"
	SouthEast Strategy = "SE"
)

// Strategies lists every strategy in tie-break precedence order.
var Strategies = []Strategy{NorthWest, SouthWest, NorthEast, SouthEast}

// East reports whether the horizontal leg steps planes upward.
func (s Strategy) East() bool { return strings.Contains(string(s), "E") }

// North reports whether the vertical leg steps slots upward.
func (s Strategy) North() bool { return strings.Contains(string(s), "N") }

// Link is a directed hop between two adjacent nodes.
type Link struct {
	From NodeID
	To   NodeID
}

// InterPlane reports whether the link crosses planes.
func (l Link) InterPlane() bool { return l.From.Plane != l.To.Plane }

// String renders "S{p}_{s}-S{p}_{s}".
func (l Link) String() string { return l.From.String() + "-" + l.To.String() }

// MarshalText encodes the link as its string identifier.
func (l Link) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText parses a link identifier.
func (l *Link) UnmarshalText(b []byte) error {
	parsed, err := ParseLink(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLink parses "S{p}_{s}-S{p}_{s}".
func ParseLink(s string) (Link, error) {
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return Link{}, fmt.Errorf("%w: link %q", ErrBadNodeID, s)
	}
	u, err := ParseNodeID(from)
	if err != nil {
		return Link{}, err
	}
	v, err := ParseNodeID(to)
	if err != nil {
		return Link{}, err
	}
	return Link{From: u, To: v}, nil
}

// RouteMetrics are the aggregate figures a RouteEvaluator attaches to a
// candidate route.
type RouteMetrics struct {
	// Delay is queuing + transmission + propagation, in seconds.
	Delay float64 `json:"delay"`
	// Throughput is in Mbps.
	Throughput float64 `json:"throughput"`
	// MaxLoad is the highest load of any node the route arrives at.
	MaxLoad float64 `json:"max_load"`
}

// CandidateRoute is one multi-hop path proposed by the orbital path
// finder. Metrics is nil until the route has been evaluated.
type CandidateRoute struct {
	ID       int           `json:"id"`
	Strategy Strategy      `json:"strategy"`
	Hops     int           `json:"hops"`
	Links    []Link        `json:"links"`
	Metrics  *RouteMetrics `json:"metrics,omitempty"`
}

// Source returns the first node of the route. ok is false for a
// zero-hop route.
func (r CandidateRoute) Source() (NodeID, bool) {
	if len(r.Links) == 0 {
		return NodeID{}, false
	}
	return r.Links[0].From, true
}

// LinkNames returns the string identifiers of the route's links.
func (r CandidateRoute) LinkNames() []string {
	out := make([]string, len(r.Links))
	for i, l := range r.Links {
		out[i] = l.String()
	}
	return out
}

// WithMetrics returns a copy of r carrying m. The link slice is copied
// so the evaluated route never aliases the candidate it came from.
func (r CandidateRoute) WithMetrics(m RouteMetrics) CandidateRoute {
	links := make([]Link, len(r.Links))
	copy(links, r.Links)
	r.Links = links
	r.Metrics = &m
	return r
}
