package transmit

import "github.com/signalsfoundry/meshroute/model"

// EventType tags a timeline entry.
type EventType string

const (
	PacketStart EventType = "PACKET_START"
	PacketHop   EventType = "PACKET_HOP"
)

// Event is one timeline entry. Time is simulated seconds since the start
// of the scenario.
type Event struct {
	Time       float64   `json:"time"`
	Type       EventType `json:"type"`
	RouteID    int       `json:"route_id"`
	FragmentID int       `json:"fragment_id"`
	Location   string    `json:"location"`
}

// Meta describes the payload that was sent.
type Meta struct {
	Filename         string  `json:"filename,omitempty"`
	OriginalSize     int     `json:"original_size"`
	CompressedSize   int     `json:"compressed_size"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
	TotalFragments   int     `json:"total_fragments"`
	Checksum         uint32  `json:"checksum"`
	SimulatedSeconds float64 `json:"simulated_seconds"`
}

// RouteSummary is the per-route allocation record.
type RouteSummary struct {
	RouteID         int                 `json:"route_id"`
	Path            []string            `json:"path"`
	Strategy        model.Strategy      `json:"strategy"`
	Hops            int                 `json:"hops"`
	AssignedPackets int                 `json:"assigned_packets"`
	Ratio           float64             `json:"ratio"`
	Color           string              `json:"color"`
	Metrics         *model.RouteMetrics `json:"metrics,omitempty"`
}

// Response is the full result of a transmission.
type Response struct {
	Meta     Meta           `json:"meta"`
	Routes   []RouteSummary `json:"routes"`
	Timeline []Event        `json:"timeline"`
}

// routePalette colours routes for the visualiser, cycling by position.
var routePalette = []string{"#00ff00", "#0000ff", "#ff0000"}
