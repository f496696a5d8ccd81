package transmit

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/meshroute/internal/codec"
	"github.com/signalsfoundry/meshroute/internal/logging"
	"github.com/signalsfoundry/meshroute/internal/policy"
	"github.com/signalsfoundry/meshroute/internal/routing"
	"github.com/signalsfoundry/meshroute/model"
)

// Request is a payload to move from Src to Dst.
type Request struct {
	Payload  []byte
	Src      model.NodeID
	Dst      model.NodeID
	Filename string
}

// RouteFinder produces an evaluated routing decision.
type RouteFinder interface {
	FindBestRoutes(ctx context.Context, src, dst model.NodeID) (routing.Decision, error)
}

// Transmitter runs the whole pipeline: compress, fragment, route, split
// and deliver.
type Transmitter struct {
	Router    RouteFinder
	Policy    policy.SplitPolicy
	Scheduler *Scheduler
	ChunkSize int
	Log       logging.Logger
}

// Send transmits req and returns the response. A routing failure is
// returned as an error wrapping routing.ErrNoRouteFound.
func (t *Transmitter) Send(ctx context.Context, req Request) (*Response, error) {
	log := logging.FromContext(ctx, t.Log)
	chunk := t.ChunkSize
	if chunk <= 0 {
		chunk = codec.DefaultChunkSize
	}

	began := time.Now()
	compressed, err := codec.Compress(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	fragments, err := codec.Fragment(compressed, chunk)
	if err != nil {
		return nil, fmt.Errorf("fragment: %w", err)
	}
	procMs := float64(time.Since(began).Microseconds()) / 1000

	resp := &Response{
		Meta: Meta{
			Filename:         req.Filename,
			OriginalSize:     len(req.Payload),
			CompressedSize:   len(compressed),
			ProcessingTimeMs: procMs,
			TotalFragments:   len(fragments),
			Checksum:         codec.Checksum(req.Payload),
		},
		Routes:   []RouteSummary{},
		Timeline: []Event{},
	}
	if len(fragments) == 0 {
		t.Scheduler.record(OutcomeEmpty)
		return resp, nil
	}

	decision, err := t.Router.FindBestRoutes(ctx, req.Src, req.Dst)
	if err != nil {
		t.Scheduler.record(OutcomeNoRoute)
		log.Warn(ctx, "no usable route",
			logging.Stringer("src", req.Src),
			logging.Stringer("dst", req.Dst),
			logging.Err(err),
		)
		return nil, err
	}

	p := t.Policy
	if p == nil {
		p = policy.Uniform{}
	}
	ratios, err := p.Split(ctx, decision.Features, decision.Adjacency)
	if err != nil {
		return nil, fmt.Errorf("split policy: %w", err)
	}
	if ratios, err = policy.Normalize(ratios); err != nil {
		return nil, err
	}
	if err := policy.Validate(ratios, len(decision.Routes)); err != nil {
		return nil, err
	}

	res, err := t.Scheduler.Transmit(ctx, req.Src, fragments, decision.Routes, ratios)
	if err != nil {
		return nil, err
	}
	resp.Routes = res.Routes
	resp.Timeline = res.Timeline
	resp.Meta.SimulatedSeconds = (res.End - res.Start).Seconds()

	log.Info(ctx, "transmission delivered",
		logging.Stringer("src", req.Src),
		logging.Stringer("dst", req.Dst),
		logging.Int("fragments", len(fragments)),
		logging.Int("routes", len(res.Routes)),
		logging.Float64("simulated_seconds", resp.Meta.SimulatedSeconds),
	)
	return resp, nil
}
