// Package badge reports the current hidden-comment tally to an outer
// surface. Reports are debounced so rapid evaluation storms collapse into a
// single message.
package badge

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultDelay is the debounce window between state changes and delivery.
const DefaultDelay = 150 * time.Millisecond

// MessageType identifies the report payload on the wire.
const MessageType = "blockedCount"

// Report is the payload delivered to the surface.
type Report struct {
	Type  string   `json:"type"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// Notifier delivers a report to the outer surface. Delivery failures are the
// notifier's to describe and the reporter's to ignore.
type Notifier interface {
	Notify(Report) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Report) error

func (f NotifierFunc) Notify(r Report) error { return f(r) }

// Reporter tracks which items are hidden and for which author, and pushes a
// debounced summary after each change.
type Reporter struct {
	notify Notifier
	logger *slog.Logger
	delay  time.Duration

	mu     sync.Mutex
	hidden map[string]string // item ID -> normalized author username
	timer  *time.Timer
	closed bool
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithDelay overrides the debounce window.
func WithDelay(d time.Duration) Option {
	return func(r *Reporter) {
		if d > 0 {
			r.delay = d
		}
	}
}

// WithLogger sets the logger for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reporter) { r.logger = l }
}

// NewReporter returns a Reporter delivering through n.
func NewReporter(n Notifier, opts ...Option) *Reporter {
	r := &Reporter{
		notify: n,
		logger: slog.Default(),
		delay:  DefaultDelay,
		hidden: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Hide records item as hidden for the given author and schedules a report.
func (r *Reporter) Hide(itemID, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hidden[itemID] == username {
		return
	}
	r.hidden[itemID] = username
	r.arm()
}

// Show removes item from the hidden set and schedules a report.
func (r *Reporter) Show(itemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hidden[itemID]; !ok {
		return
	}
	delete(r.hidden, itemID)
	r.arm()
}

// Reset clears all hidden state, as on a full page replacement.
func (r *Reporter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.hidden) == 0 {
		return
	}
	r.hidden = make(map[string]string)
	r.arm()
}

// Count returns the number of currently hidden items.
func (r *Reporter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hidden)
}

// Flush delivers the current state immediately, cancelling any pending
// debounced report.
func (r *Reporter) Flush() {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	rep := r.report()
	r.mu.Unlock()
	r.deliver(rep)
}

// Close stops pending delivery.
func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// arm starts or restarts the debounce timer. Caller holds r.mu.
func (r *Reporter) arm() {
	if r.closed {
		return
	}
	if r.timer != nil {
		r.timer.Reset(r.delay)
		return
	}
	r.timer = time.AfterFunc(r.delay, func() {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		r.timer = nil
		rep := r.report()
		r.mu.Unlock()
		r.deliver(rep)
	})
}

// report builds the payload. Caller holds r.mu.
func (r *Reporter) report() Report {
	users := make(map[string]bool, len(r.hidden))
	for _, u := range r.hidden {
		if u != "" {
			users[u] = true
		}
	}
	names := make([]string, 0, len(users))
	for u := range users {
		names = append(names, u)
	}
	sort.Strings(names)
	return Report{Type: MessageType, Count: len(r.hidden), Users: names}
}

func (r *Reporter) deliver(rep Report) {
	if err := r.notify.Notify(rep); err != nil {
		// The surface may simply not be listening; never treat that as fatal.
		r.logger.Debug("badge delivery failed", "error", err, "count", rep.Count)
	}
}
