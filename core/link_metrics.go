package core

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/meshroute/model"
)

// DownLinkDelay is the queuing and transmission delay reported for a link
// touching a failed node.
const DownLinkDelay = 1e6

// LinkMetrics describes the directed link u→v at query time. Load metrics
// come from the receiving node v.
type LinkMetrics struct {
	QueuingDelay      float64 `json:"queuing_delay"`      // seconds
	TransmissionDelay float64 `json:"transmission_delay"` // seconds
	Distance          float64 `json:"distance"`           // metres
	Throughput        float64 `json:"throughput"`         // Mbps
	Load              float64 `json:"load"`
	Down              bool    `json:"down"`
}

// PropagationDelay is Distance over the signal speed, in seconds.
func (m LinkMetrics) PropagationDelay() float64 {
	return m.Distance / SignalSpeed
}

// PathDelay is the link's total contribution to end-to-end delay.
func (m LinkMetrics) PathDelay() float64 {
	return m.QueuingDelay + m.TransmissionDelay + m.PropagationDelay()
}

// LinkMetrics answers a metric query for u→v using the configured
// reference packet size. Each call draws fresh distance jitter from a
// stream separate from node evolution, so queries leave node state and
// its future trajectory untouched.
func (c *Constellation) LinkMetrics(u, v model.NodeID) (LinkMetrics, error) {
	return c.LinkMetricsSized(u, v, c.cfg.PacketSizeBytes)
}

// LinkMetricsSized is LinkMetrics with an explicit packet size. The
// transmission delay divides the packet size by the capacity in bit/s,
// matching the reference load model.
func (c *Constellation) LinkMetricsSized(u, v model.NodeID, packetBytes int) (LinkMetrics, error) {
	shape := c.cfg.Shape
	if !shape.Contains(u) {
		return LinkMetrics{}, fmt.Errorf("%w: %s", ErrNodeNotFound, u)
	}
	if !shape.Contains(v) {
		return LinkMetrics{}, fmt.Errorf("%w: %s", ErrNodeNotFound, v)
	}
	if packetBytes <= 0 {
		packetBytes = c.cfg.PacketSizeBytes
	}

	c.mu.Lock()
	src := c.nodes[shape.Index(u)]
	dst := c.nodes[shape.Index(v)]

	var m LinkMetrics
	if !src.active || !dst.active || dst.capacity <= 0 {
		m = LinkMetrics{
			QueuingDelay:      DownLinkDelay,
			TransmissionDelay: DownLinkDelay,
			Distance:          math.Inf(1),
			Throughput:        dst.capacity,
			Load:              dst.load,
			Down:              true,
		}
	} else {
		base := c.cfg.IntraPlaneDistanceM
		if u.Plane != v.Plane {
			base = c.cfg.InterPlaneDistanceM
		}
		m = LinkMetrics{
			QueuingDelay:      c.cfg.QueuingDelayAtFullLoad * dst.load,
			TransmissionDelay: float64(packetBytes) / math.Max(dst.capacity*1e6, 1e-9),
			Distance:          base + c.jitterLocked(c.cfg.JitterM),
			Throughput:        dst.capacity,
			Load:              dst.load,
		}
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.IncLinkQueries(m.Down)
	}
	return m, nil
}
