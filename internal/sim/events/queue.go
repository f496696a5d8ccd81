// Package events provides the single simulated-time event queue that every
// in-flight activity (node state evolution, fragment delivery) is
// multiplexed onto.
package events

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/signalsfoundry/meshroute/timectrl"
)

// ErrQueueDrained is returned by RunWhile when the queue empties before the
// caller's condition is satisfied.
var ErrQueueDrained = errors.New("event queue drained")

// EventID identifies a scheduled event for cancellation.
type EventID uint64

// scheduledEvent represents a single scheduled callback.
type scheduledEvent struct {
	id        EventID
	when      time.Duration
	seq       uint64
	f         func()
	cancelled bool
	index     int
}

// eventHeap orders events by time, then by insertion order.
type eventHeap []*scheduledEvent

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].when != h[j].when {
		return h[i].when < h[j].when
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *eventHeap) Push(x any) {
	ev := x.(*scheduledEvent)
	ev.index = len(*h)
	*h = append(*h, ev)
}
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.index = -1
	*h = old[:n-1]
	return ev
}

// Queue is a min-heap of pending callbacks keyed by simulated resume time.
// Events with equal timestamps run in the order they were scheduled.
//
// Callbacks always execute outside the internal lock so they can schedule
// or cancel further events.
type Queue struct {
	clock *timectrl.VirtualClock

	mu     sync.Mutex
	seq    uint64
	events eventHeap
	index  map[EventID]*scheduledEvent
}

// NewQueue returns an empty queue whose clock starts at zero.
func NewQueue() *Queue {
	return &Queue{
		clock: timectrl.NewVirtualClock(0),
		index: make(map[EventID]*scheduledEvent),
	}
}

// Clock exposes the queue's clock as a read-only SimClock.
func (q *Queue) Clock() timectrl.SimClock { return q.clock }

// Now returns the current simulated time.
func (q *Queue) Now() time.Duration { return q.clock.Now() }

// Schedule registers f to run at simulated time at. Times in the past are
// clamped to Now.
func (q *Queue) Schedule(at time.Duration, f func()) EventID {
	q.mu.Lock()
	defer q.mu.Unlock()

	if now := q.clock.Now(); at < now {
		at = now
	}
	q.seq++
	ev := &scheduledEvent{
		id:   EventID(q.seq),
		when: at,
		seq:  q.seq,
		f:    f,
	}
	heap.Push(&q.events, ev)
	q.index[ev.id] = ev
	return ev.id
}

// After registers f to run d after the current simulated time.
func (q *Queue) After(d time.Duration, f func()) EventID {
	return q.Schedule(q.Now()+d, f)
}

// Cancel drops a pending event. Unknown or already-run IDs are ignored.
func (q *Queue) Cancel(id EventID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ev, ok := q.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(q.index, id)
	if ev.index >= 0 {
		heap.Remove(&q.events, ev.index)
	}
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// NextTime returns the timestamp of the earliest pending event.
func (q *Queue) NextTime() (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return 0, false
	}
	return q.events[0].when, true
}

// popLocked removes the earliest event if it is due at or before limit.
// Caller must hold q.mu.
func (q *Queue) popLocked(limit time.Duration, bounded bool) *scheduledEvent {
	for len(q.events) > 0 {
		ev := q.events[0]
		if bounded && ev.when > limit {
			return nil
		}
		heap.Pop(&q.events)
		delete(q.index, ev.id)
		if ev.cancelled {
			continue
		}
		return ev
	}
	return nil
}

func (q *Queue) dispatch(ev *scheduledEvent) {
	q.clock.Set(ev.when)
	if ev.f != nil {
		ev.f()
	}
}

// Step runs the single earliest event, advancing the clock to its time.
// It returns false when the queue is empty.
func (q *Queue) Step() bool {
	q.mu.Lock()
	ev := q.popLocked(0, false)
	q.mu.Unlock()
	if ev == nil {
		return false
	}
	q.dispatch(ev)
	return true
}

// RunUntil runs every event due at or before t in time order and leaves
// the clock at t.
func (q *Queue) RunUntil(t time.Duration) {
	for {
		q.mu.Lock()
		ev := q.popLocked(t, true)
		q.mu.Unlock()
		if ev == nil {
			break
		}
		q.dispatch(ev)
	}
	q.clock.Set(t)
}

// RunWhile dispatches events one at a time for as long as cond holds.
func (q *Queue) RunWhile(cond func() bool) error {
	for cond() {
		if !q.Step() {
			return ErrQueueDrained
		}
	}
	return nil
}

// Reset drops every pending event and rewinds the clock to zero.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = nil
	q.index = make(map[EventID]*scheduledEvent)
	q.clock.Reset()
}
