// Package policy turns per-route feature vectors into traffic split
// ratios.
package policy

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRatios indicates a ratio vector that cannot drive allocation.
var ErrInvalidRatios = errors.New("invalid split ratios")

// ratioTolerance bounds how far a ratio vector may drift from summing to 1.
const ratioTolerance = 1e-6

// SplitPolicy maps route features [hops/10, delay*10, tp/1000, max_load]
// and the route-overlap matrix to one non-negative ratio per route,
// summing to 1.
type SplitPolicy interface {
	Split(ctx context.Context, features, adjacency [][]float64) ([]float64, error)
}

// Func adapts a function to SplitPolicy.
type Func func(ctx context.Context, features, adjacency [][]float64) ([]float64, error)

// Split calls f.
func (f Func) Split(ctx context.Context, features, adjacency [][]float64) ([]float64, error) {
	return f(ctx, features, adjacency)
}

// Uniform splits traffic evenly.
type Uniform struct{}

// Split returns 1/n for every route.
func (Uniform) Split(_ context.Context, features, _ [][]float64) ([]float64, error) {
	n := len(features)
	if n == 0 {
		return nil, fmt.Errorf("%w: no routes", ErrInvalidRatios)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = 1 / float64(n)
	}
	return out, nil
}

// Softmax scores each route as throughput − delay − load − hops on the
// normalised features, takes a temperature softmax, floors every ratio and
// renormalises. Routes that overlap others are penalised by Overlap per
// shared neighbour.
type Softmax struct {
	Temperature float64
	Floor       float64
	Overlap     float64
}

// NewSoftmax returns the inference-mode scorer: temperature 0.8, floor 0.1.
func NewSoftmax() Softmax {
	return Softmax{Temperature: 0.8, Floor: 0.1}
}

// Split implements SplitPolicy.
func (s Softmax) Split(_ context.Context, features, adjacency [][]float64) ([]float64, error) {
	n := len(features)
	if n == 0 {
		return nil, fmt.Errorf("%w: no routes", ErrInvalidRatios)
	}
	temp := s.Temperature
	if temp <= 0 {
		temp = 1
	}

	scores := make([]float64, n)
	best := math.Inf(-1)
	for i, f := range features {
		if len(f) < 4 {
			return nil, fmt.Errorf("%w: route %d has %d features, want 4", ErrInvalidRatios, i, len(f))
		}
		score := f[2] - f[1] - f[3] - f[0]
		if i < len(adjacency) {
			for _, a := range adjacency[i] {
				score -= s.Overlap * a
			}
		}
		scores[i] = score / temp
		best = math.Max(best, scores[i])
	}

	sum := 0.0
	for i := range scores {
		scores[i] = math.Exp(scores[i] - best)
		sum += scores[i]
	}
	for i := range scores {
		scores[i] = math.Max(scores[i]/sum, s.Floor)
	}
	return Normalize(scores)
}

// Validate checks that ratios has n finite, non-negative entries summing
// to 1 within tolerance.
func Validate(ratios []float64, n int) error {
	if len(ratios) != n {
		return fmt.Errorf("%w: got %d ratios for %d routes", ErrInvalidRatios, len(ratios), n)
	}
	sum := 0.0
	for i, r := range ratios {
		if r < 0 || math.IsNaN(r) || math.IsInf(r, 0) {
			return fmt.Errorf("%w: ratio %d = %v", ErrInvalidRatios, i, r)
		}
		sum += r
	}
	if math.Abs(sum-1) > ratioTolerance {
		return fmt.Errorf("%w: ratios sum to %v", ErrInvalidRatios, sum)
	}
	return nil
}

// Normalize rescales ratios to sum to 1.
func Normalize(ratios []float64) ([]float64, error) {
	sum := 0.0
	for i, r := range ratios {
		if r < 0 || math.IsNaN(r) || math.IsInf(r, 0) {
			return nil, fmt.Errorf("%w: ratio %d = %v", ErrInvalidRatios, i, r)
		}
		sum += r
	}
	if sum <= 0 {
		return nil, fmt.Errorf("%w: ratios sum to %v", ErrInvalidRatios, sum)
	}
	out := make([]float64, len(ratios))
	for i, r := range ratios {
		out[i] = r / sum
	}
	return out, nil
}

// Reward is the throughput/delay utility β·ln(tp+ε) − (1−β)·ln(delay+ε)
// recorded per benchmark trial.
func Reward(avgThroughput, avgDelay, beta float64) float64 {
	const eps = 1e-9
	return beta*math.Log(avgThroughput+eps) - (1-beta)*math.Log(avgDelay+eps)
}

// ByName resolves a policy from its configuration name.
func ByName(name string) (SplitPolicy, error) {
	switch name {
	case "", "softmax":
		return NewSoftmax(), nil
	case "uniform":
		return Uniform{}, nil
	}
	return nil, fmt.Errorf("unknown split policy %q", name)
}
