package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock gives read access to simulated time, measured as an offset from
// scenario start. Components depend on this rather than on the event queue
// so they can be tested against a fixed clock.
type SimClock interface {
	Now() time.Duration
}

// VirtualClock is a settable, monotonic SimClock.
type VirtualClock struct {
	mu  sync.RWMutex
	now time.Duration
}

// NewVirtualClock constructs a clock at start.
func NewVirtualClock(start time.Duration) *VirtualClock {
	return &VirtualClock{now: start}
}

// Now returns the current simulated time.
func (c *VirtualClock) Now() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Set moves the clock forward to t. Earlier times are ignored.
func (c *VirtualClock) Set(t time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t > c.now {
		c.now = t
	}
}

// Reset rewinds the clock to zero.
func (c *VirtualClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = 0
}

// Runner is anything that can be advanced through simulated time,
// typically the event queue.
type Runner interface {
	Now() time.Duration
	RunUntil(t time.Duration)
}

// TimeController advances a Runner one Tick at a time and notifies
// registered listeners after every tick.
type TimeController struct {
	mu        sync.Mutex
	Tick      time.Duration
	runner    Runner
	ticks     int
	listeners []func(tick int, now time.Duration)
}

// NewTimeController constructs a controller. A non-positive tick defaults
// to one simulated second.
func NewTimeController(runner Runner, tick time.Duration) *TimeController {
	if tick <= 0 {
		tick = time.Second
	}
	return &TimeController{Tick: tick, runner: runner}
}

// AddListener registers a callback invoked after every tick.
func (tc *TimeController) AddListener(fn func(tick int, now time.Duration)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Ticks returns how many ticks have been completed.
func (tc *TimeController) Ticks() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.ticks
}

// Step advances simulated time by one tick and returns the new time.
func (tc *TimeController) Step() time.Duration {
	target := tc.runner.Now() + tc.Tick
	tc.runner.RunUntil(target)

	tc.mu.Lock()
	tick := tc.ticks
	tc.ticks++
	listeners := append([]func(int, time.Duration){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(tick, target)
	}
	return target
}

// Run steps the controller n times, stopping early if ctx is cancelled.
func (tc *TimeController) Run(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tc.Step()
	}
	return nil
}
