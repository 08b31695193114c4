package fetch

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultSpacing is the default pause between queued lookups.
const DefaultSpacing = 400 * time.Millisecond

// Queue serializes low-priority lookups: keys drain one at a time with a
// fixed spacing between requests, bounding burst rate against the remote
// source. Enqueue de-duplicates against keys already queued; callers skip
// keys that are already resolved or memoized as failed.
type Queue struct {
	run     func(key string)
	logger  *slog.Logger
	spacing time.Duration

	mu       sync.Mutex
	queued   map[string]bool
	items    []string
	running  string
	draining bool
	closed   bool
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueLogger sets a custom logger.
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) { q.logger = logger }
}

// NewQueue creates a Queue that invokes run for each drained key, waiting
// spacing between invocations. A spacing of zero uses DefaultSpacing.
func NewQueue(spacing time.Duration, run func(key string), opts ...QueueOption) *Queue {
	if spacing <= 0 {
		spacing = DefaultSpacing
	}
	q := &Queue{
		run:     run,
		logger:  slog.Default(),
		spacing: spacing,
		queued:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue schedules key for a spaced lookup. A key already waiting in the
// queue is not added again.
func (q *Queue) Enqueue(key string) {
	if key == "" {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.queued[key] || q.running == key {
		return
	}
	q.queued[key] = true
	q.items = append(q.items, key)
	if !q.draining {
		q.draining = true
		go q.drain()
	}
}

// drain pops one key at a time, running each synchronously with the fixed
// spacing in between. Exactly one drain goroutine exists at a time.
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if q.closed || len(q.items) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		key := q.items[0]
		q.items = q.items[1:]
		delete(q.queued, key)
		q.running = key
		q.mu.Unlock()

		q.logger.Debug("draining queued lookup", "key", key)
		q.run(key)

		q.mu.Lock()
		q.running = ""
		q.mu.Unlock()
		time.Sleep(q.spacing)
	}
}

// Close discards pending keys and stops accepting new ones.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
	q.queued = make(map[string]bool)
}

// Len reports the number of keys waiting in the queue.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
