package badge

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type capture struct {
	mu      sync.Mutex
	reports []Report
}

func (c *capture) Notify(r Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
	return nil
}

func (c *capture) snapshot() []Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Report(nil), c.reports...)
}

func (c *capture) waitFor(t *testing.T, n int) []Report {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reps := c.snapshot(); len(reps) >= n {
			return reps
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d reports, have %v", n, c.snapshot())
	return nil
}

func TestReporterDebouncesChanges(t *testing.T) {
	var sink capture
	r := NewReporter(&sink, WithDelay(30*time.Millisecond))
	defer r.Close()

	r.Hide("c1", "alice")
	r.Hide("c2", "bob")
	r.Hide("c3", "alice")

	reps := sink.waitFor(t, 1)
	time.Sleep(80 * time.Millisecond)
	if reps = sink.snapshot(); len(reps) != 1 {
		t.Fatalf("reports = %d, want one debounced report", len(reps))
	}

	want := Report{Type: MessageType, Count: 3, Users: []string{"alice", "bob"}}
	if diff := cmp.Diff(want, reps[0]); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestReporterShowAndReset(t *testing.T) {
	var sink capture
	r := NewReporter(&sink, WithDelay(10*time.Millisecond))
	defer r.Close()

	r.Hide("c1", "alice")
	r.Hide("c2", "bob")
	sink.waitFor(t, 1)

	r.Show("c1")
	reps := sink.waitFor(t, 2)
	last := reps[len(reps)-1]
	if last.Count != 1 || len(last.Users) != 1 || last.Users[0] != "bob" {
		t.Errorf("after Show: %+v", last)
	}

	r.Reset()
	reps = sink.waitFor(t, 3)
	last = reps[len(reps)-1]
	if last.Count != 0 || len(last.Users) != 0 {
		t.Errorf("after Reset: %+v", last)
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d, want 0", r.Count())
	}
}

func TestReporterNoReportWithoutChange(t *testing.T) {
	var sink capture
	r := NewReporter(&sink, WithDelay(10*time.Millisecond))
	defer r.Close()

	r.Show("never-hidden")
	r.Hide("c1", "alice")
	sink.waitFor(t, 1)
	r.Hide("c1", "alice") // identical, no new report

	time.Sleep(50 * time.Millisecond)
	if reps := sink.snapshot(); len(reps) != 1 {
		t.Errorf("reports = %d, want 1", len(reps))
	}
}

func TestReporterFlushImmediate(t *testing.T) {
	var sink capture
	r := NewReporter(&sink, WithDelay(time.Hour))
	defer r.Close()

	r.Hide("c1", "alice")
	r.Flush()
	reps := sink.snapshot()
	if len(reps) != 1 || reps[0].Count != 1 {
		t.Fatalf("reports after Flush = %v", reps)
	}
}

func TestReporterSwallowsDeliveryErrors(t *testing.T) {
	r := NewReporter(NotifierFunc(func(Report) error { return errors.New("no listener") }))
	defer r.Close()
	r.Hide("c1", "alice")
	r.Flush() // must not panic or propagate
}
