package transmit

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidAllocation indicates ratios that cannot be turned into counts.
var ErrInvalidAllocation = errors.New("invalid allocation")

// ratioSlack absorbs float error in ratios that are meant to sum to one.
// It matches the tolerance policy.Validate accepts.
const ratioSlack = 1e-6

// Allocate turns split ratios into per-route fragment counts summing to
// total. Ratios summing above one are rejected. Each count starts at
// floor(ratio*total) and any shortfall goes one fragment at a time to the
// first route holding the current maximum.
func Allocate(ratios []float64, total int) ([]int, error) {
	if total < 0 {
		return nil, fmt.Errorf("%w: negative fragment total %d", ErrInvalidAllocation, total)
	}
	if len(ratios) == 0 {
		if total == 0 {
			return []int{}, nil
		}
		return nil, fmt.Errorf("%w: no routes for %d fragments", ErrInvalidAllocation, total)
	}

	var ratioSum float64
	for i, r := range ratios {
		if r < 0 || math.IsNaN(r) || math.IsInf(r, 0) {
			return nil, fmt.Errorf("%w: ratio %d = %v", ErrInvalidAllocation, i, r)
		}
		ratioSum += r
	}
	if ratioSum > 1+ratioSlack {
		return nil, fmt.Errorf("%w: ratios sum to %v", ErrInvalidAllocation, ratioSum)
	}

	counts := make([]int, len(ratios))
	sum := 0
	for i, r := range ratios {
		counts[i] = int(math.Floor(r * float64(total)))
		sum += counts[i]
	}
	for sum < total {
		counts[argmax(counts)]++
		sum++
	}
	// Only the slack above one can overshoot, by a fragment at most for
	// any realistic total.
	for sum > total {
		counts[argmax(counts)]--
		sum--
	}
	return counts, nil
}

func argmax(v []int) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
