// Package schedule provides the timing primitives for re-evaluation:
// a per-scope trailing-edge debouncer for mutation storms, and a burst
// scheduler that re-checks a scope a few times after it expands.
package schedule

import (
	"sync"
	"time"
)

// DefaultDelay is the debounce window for coalesced work.
const DefaultDelay = 50 * time.Millisecond

// DefaultBursts are the delays after which an expanded scope is re-checked,
// covering content that the host renders asynchronously.
var DefaultBursts = []time.Duration{100 * time.Millisecond, 600 * time.Millisecond, 1500 * time.Millisecond}

// Coalescer debounces work per scope key. Repeated Schedule calls for a key
// within the delay window collapse into a single invocation after the last
// call (trailing edge).
type Coalescer struct {
	run   func(scope string)
	delay time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewCoalescer returns a Coalescer that invokes run once per settled scope.
// A non-positive delay falls back to DefaultDelay.
func NewCoalescer(run func(scope string), delay time.Duration) *Coalescer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Coalescer{run: run, delay: delay, timers: make(map[string]*time.Timer)}
}

// Schedule arms or re-arms the timer for scope. The run callback fires on a
// timer goroutine once no further Schedule call has arrived for the delay
// window.
func (c *Coalescer) Schedule(scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if t, ok := c.timers[scope]; ok {
		t.Reset(c.delay)
		return
	}
	c.timers[scope] = time.AfterFunc(c.delay, func() {
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return
		}
		delete(c.timers, scope)
		c.mu.Unlock()
		c.run(scope)
	})
}

// Stop cancels all pending timers. Schedule becomes a no-op afterwards.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for scope, t := range c.timers {
		t.Stop()
		delete(c.timers, scope)
	}
}

// Burst re-runs fn for a scope at each of the given delays. Used after a
// collapsed thread expands, when the host keeps inserting content for a
// while. Delays default to DefaultBursts.
type Burst struct {
	run    func(scope string)
	delays []time.Duration

	mu      sync.Mutex
	timers  []*time.Timer
	stopped bool
}

// NewBurst returns a Burst invoking run at each delay after Fire.
func NewBurst(run func(scope string), delays ...time.Duration) *Burst {
	if len(delays) == 0 {
		delays = DefaultBursts
	}
	return &Burst{run: run, delays: delays}
}

// Fire schedules one run per configured delay for scope. Each Fire call
// schedules its own full set; callers coalesce upstream if needed.
func (b *Burst) Fire(scope string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	for _, d := range b.delays {
		b.timers = append(b.timers, time.AfterFunc(d, func() {
			b.mu.Lock()
			stopped := b.stopped
			b.mu.Unlock()
			if !stopped {
				b.run(scope)
			}
		}))
	}
}

// Stop cancels all pending runs.
func (b *Burst) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	for _, t := range b.timers {
		t.Stop()
	}
	b.timers = nil
}
