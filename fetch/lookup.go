package fetch

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// State describes the outcome recorded for a lookup key.
type State int

// Lookup outcomes. A key with no recorded outcome is simply absent; Get
// distinguishes a confirmed empty result from a memoized failure.
const (
	StateResolved State = iota // value present
	StateEmpty                 // confirmed no data
	StateFailed                // memoized failure, not retried this session
)

// Sentinel encodings for non-value outcomes in the byte cache.
const (
	emptySentinel = "EMPTY"
	valuePrefix   = "OK:"
)

// Lookup is a generic single-flight resolution cache for one remote
// operation. Each key resolves at most once per session: concurrent callers
// share the in-flight request, a confirmed empty result is cached distinctly
// from absence, and (when failure memoization is on) a transport failure is
// remembered and never retried until FailTTL elapses.
type Lookup[T any] struct {
	cache   Cacher
	fetch   func(ctx context.Context, key string) (*T, error)
	logger  *slog.Logger
	name    string
	failTTL time.Duration // 0 = remember failures for the whole session

	mu      sync.Mutex
	failed  map[string]time.Time
	settled map[string]bool
	memoize bool
}

// LookupOption configures a Lookup.
type LookupOption[T any] func(*Lookup[T])

// MemoizeFailures records fetch errors as Failed instead of Empty. A zero
// ttl keeps a failure for the whole session; a positive ttl allows a retry
// after it elapses.
func MemoizeFailures[T any](ttl time.Duration) LookupOption[T] {
	return func(l *Lookup[T]) {
		l.memoize = true
		l.failTTL = ttl
	}
}

// WithLookupLogger sets a custom logger.
func WithLookupLogger[T any](logger *slog.Logger) LookupOption[T] {
	return func(l *Lookup[T]) { l.logger = logger }
}

// NewLookup creates a Lookup named for logging, backed by cache, resolving
// misses through fetch. A fetch returning (nil, nil) is a confirmed empty
// result; a fetch error is an empty result unless failure memoization is on.
func NewLookup[T any](name string, cache Cacher, fetch func(ctx context.Context, key string) (*T, error), opts ...LookupOption[T]) *Lookup[T] {
	l := &Lookup[T]{
		name:   name,
		cache:  cache,
		fetch:  fetch,
		logger:  slog.Default(),
		failed:  make(map[string]time.Time),
		settled: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Get resolves key, consulting the cache first. The returned value is nil
// for both StateEmpty and StateFailed.
func (l *Lookup[T]) Get(ctx context.Context, key string) (*T, State) {
	if key == "" {
		return nil, StateEmpty
	}
	if l.Failed(key) {
		return nil, StateFailed
	}

	var failedNow bool
	data, err := l.cache.GetSet(ctx, l.name+":"+key, func(ctx context.Context) ([]byte, error) {
		value, fetchErr := l.fetch(ctx, key)
		if fetchErr != nil {
			l.logger.Debug("lookup failed", "op", l.name, "key", key, "error", fetchErr)
			if l.memoize {
				l.recordFailure(key)
				failedNow = true
				return nil, fetchErr // not cached; the failure map gates retries
			}
			// Soft failure: cache as confirmed-empty so the key is not
			// refetched this session.
			return []byte(emptySentinel), nil
		}
		if value == nil {
			return []byte(emptySentinel), nil
		}
		encoded, marshalErr := json.Marshal(value)
		if marshalErr != nil {
			return []byte(emptySentinel), nil
		}
		return append([]byte(valuePrefix), encoded...), nil
	}, l.cache.TTL())

	switch {
	case failedNow || err != nil:
		if err != nil && !failedNow {
			// Shared in-flight call lost to a concurrent failure.
			l.logger.Debug("lookup error", "op", l.name, "key", key, "error", err)
		}
		if l.memoize {
			return nil, StateFailed
		}
		return nil, StateEmpty
	case string(data) == emptySentinel:
		l.markSettled(key)
		return nil, StateEmpty
	}
	l.markSettled(key)

	encoded, ok := strings.CutPrefix(string(data), valuePrefix)
	if !ok {
		return nil, StateEmpty
	}
	value := new(T)
	if err := json.Unmarshal([]byte(encoded), value); err != nil {
		return nil, StateEmpty
	}
	return value, StateResolved
}

// Settled reports whether key has completed a lookup this session, as a
// resolved value or a confirmed empty. A settled key can be read back without
// triggering a new fetch.
func (l *Lookup[T]) Settled(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settled[key]
}

func (l *Lookup[T]) markSettled(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settled[key] = true
}

// Failed reports whether key has a live memoized failure.
func (l *Lookup[T]) Failed(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	at, ok := l.failed[key]
	if !ok {
		return false
	}
	if l.failTTL > 0 && time.Since(at) > l.failTTL {
		delete(l.failed, key)
		return false
	}
	return true
}

func (l *Lookup[T]) recordFailure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed[key] = time.Now()
}
