package fetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// memCache is a minimal Cacher for tests: the lock is held across the fetch
// so concurrent callers for one key observe exactly one outbound call.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttl  time.Duration
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) GetSet(ctx context.Context, key string, fetch func(context.Context) ([]byte, error), _ ...time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.data[key]; ok {
		return v, nil
	}
	v, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.data[key] = v
	return v, nil
}

func (c *memCache) TTL() time.Duration { return c.ttl }

type record struct {
	Name string
}

func TestLookupResolvesOnce(t *testing.T) {
	var calls atomic.Int64
	l := NewLookup("user", newMemCache(), func(_ context.Context, key string) (*record, error) {
		calls.Add(1)
		return &record{Name: key}, nil
	})

	ctx := context.Background()
	for range 3 {
		got, state := l.Get(ctx, "alice")
		if state != StateResolved {
			t.Fatalf("state = %v, want resolved", state)
		}
		if got.Name != "alice" {
			t.Fatalf("value = %+v", got)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("fetch ran %d times, want 1", n)
	}
}

func TestLookupConfirmedEmpty(t *testing.T) {
	var calls atomic.Int64
	l := NewLookup("user", newMemCache(), func(context.Context, string) (*record, error) {
		calls.Add(1)
		return nil, nil
	})

	ctx := context.Background()
	for range 2 {
		got, state := l.Get(ctx, "ghost")
		if got != nil || state != StateEmpty {
			t.Fatalf("Get = (%v, %v), want (nil, empty)", got, state)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("fetch ran %d times, want 1 (empty result must be cached)", n)
	}
}

func TestLookupSoftFailureCachesEmpty(t *testing.T) {
	var calls atomic.Int64
	l := NewLookup("user", newMemCache(), func(context.Context, string) (*record, error) {
		calls.Add(1)
		return nil, errors.New("boom")
	})

	ctx := context.Background()
	for range 2 {
		got, state := l.Get(ctx, "flaky")
		if got != nil || state != StateEmpty {
			t.Fatalf("Get = (%v, %v), want (nil, empty)", got, state)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("fetch ran %d times, want 1", n)
	}
	if l.Failed("flaky") {
		t.Error("soft failure must not memoize as Failed")
	}
}

func TestLookupMemoizedFailure(t *testing.T) {
	var calls atomic.Int64
	l := NewLookup("counts", newMemCache(), func(context.Context, string) (*record, error) {
		calls.Add(1)
		return nil, errors.New("timeout")
	}, MemoizeFailures[record](0))

	ctx := context.Background()
	for range 3 {
		got, state := l.Get(ctx, "slow")
		if got != nil || state != StateFailed {
			t.Fatalf("Get = (%v, %v), want (nil, failed)", got, state)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("fetch ran %d times, want 1 (failures are never retried)", n)
	}
	if !l.Failed("slow") {
		t.Error("Failed(slow) = false after memoized failure")
	}
}

func TestLookupFailureTTLExpires(t *testing.T) {
	var calls atomic.Int64
	l := NewLookup("counts", newMemCache(), func(context.Context, string) (*record, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("timeout")
		}
		return &record{Name: "late"}, nil
	}, MemoizeFailures[record](10*time.Millisecond))

	ctx := context.Background()
	if _, state := l.Get(ctx, "slow"); state != StateFailed {
		t.Fatalf("first Get state = %v, want failed", state)
	}
	time.Sleep(20 * time.Millisecond)
	got, state := l.Get(ctx, "slow")
	if state != StateResolved || got == nil || got.Name != "late" {
		t.Fatalf("Get after TTL = (%v, %v), want resolved late", got, state)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("fetch ran %d times, want 2", n)
	}
}

func TestLookupSingleFlight(t *testing.T) {
	var calls atomic.Int64
	l := NewLookup("user", newMemCache(), func(context.Context, string) (*record, error) {
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return &record{Name: "shared"}, nil
	})

	ctx := context.Background()
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			got, state := l.Get(ctx, "shared")
			if state != StateResolved || got.Name != "shared" {
				t.Errorf("Get = (%v, %v)", got, state)
			}
		})
	}
	wg.Wait()
	if n := calls.Load(); n != 1 {
		t.Errorf("fetch ran %d times for 10 concurrent callers, want 1", n)
	}
}

func TestLookupSettled(t *testing.T) {
	l := NewLookup("user", newMemCache(), func(_ context.Context, key string) (*record, error) {
		if key == "ghost" {
			return nil, nil
		}
		return &record{Name: key}, nil
	})

	ctx := context.Background()
	if l.Settled("alice") {
		t.Error("Settled before any lookup")
	}
	l.Get(ctx, "alice")
	l.Get(ctx, "ghost")
	if !l.Settled("alice") {
		t.Error("resolved key should be settled")
	}
	if !l.Settled("ghost") {
		t.Error("confirmed-empty key should be settled")
	}
}

func TestLookupFailureNotSettled(t *testing.T) {
	l := NewLookup("counts", newMemCache(), func(context.Context, string) (*record, error) {
		return nil, errors.New("timeout")
	}, MemoizeFailures[record](0))

	l.Get(context.Background(), "slow")
	if l.Settled("slow") {
		t.Error("memoized failure must not count as settled")
	}
	if !l.Failed("slow") {
		t.Error("Failed(slow) = false")
	}
}

func TestLookupEmptyKey(t *testing.T) {
	l := NewLookup("user", newMemCache(), func(context.Context, string) (*record, error) {
		t.Fatal("fetch must not run for an empty key")
		return nil, nil
	})
	if got, state := l.Get(context.Background(), ""); got != nil || state != StateEmpty {
		t.Errorf("Get(\"\") = (%v, %v), want (nil, empty)", got, state)
	}
}
