package reliability

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker(window time.Duration) (*MessageTracker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	tracker := NewMessageTracker(window)
	tracker.now = clock.Now
	return tracker, clock
}

func TestMessageTracker_Lifecycle(t *testing.T) {
	tracker, _ := newTestTracker(time.Hour)

	if got := tracker.Acquire("msg-1"); got != StateNew {
		t.Fatalf("expected StateNew, got %s", got)
	}
	if got := tracker.Acquire("msg-1"); got != StateInFlight {
		t.Errorf("expected StateInFlight while processing, got %s", got)
	}
	if tracker.IsDuplicate("msg-1") {
		t.Error("in flight message must not be reported as delivered")
	}

	tracker.Release("msg-1", true)

	if got := tracker.Acquire("msg-1"); got != StateDelivered {
		t.Errorf("expected StateDelivered, got %s", got)
	}
	if !tracker.IsDuplicate("msg-1") {
		t.Error("expected delivered message to be a duplicate")
	}
	if tracker.Len() != 1 {
		t.Errorf("expected 1 remembered message, got %d", tracker.Len())
	}
}

func TestMessageTracker_RejectedIsForgotten(t *testing.T) {
	tracker, _ := newTestTracker(time.Hour)

	tracker.Acquire("msg-1")
	tracker.Release("msg-1", false)

	if got := tracker.Acquire("msg-1"); got != StateNew {
		t.Errorf("expected rejected message to be processed again, got %s", got)
	}
	if tracker.Len() != 0 {
		t.Errorf("expected no remembered messages, got %d", tracker.Len())
	}
}

func TestMessageTracker_WindowExpiry(t *testing.T) {
	tracker, clock := newTestTracker(time.Hour)

	tracker.Acquire("msg-1")
	tracker.Release("msg-1", true)
	tracker.Acquire("msg-2")
	tracker.Release("msg-2", true)

	clock.Advance(59 * time.Minute)
	if !tracker.IsDuplicate("msg-1") {
		t.Error("expected duplicate inside the window")
	}

	clock.Advance(2 * time.Minute)
	if tracker.IsDuplicate("msg-1") {
		t.Error("expected no duplicate after the window")
	}
	if got := tracker.Acquire("msg-1"); got != StateNew {
		t.Errorf("expected StateNew after the window, got %s", got)
	}

	tracker.Cleanup()
	if tracker.Len() != 0 {
		t.Errorf("expected cleanup to drop expired IDs, got %d", tracker.Len())
	}
}

func TestMessageTracker_ConcurrentAcquire(t *testing.T) {
	tracker, _ := newTestTracker(time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.Acquire("msg-1") == StateNew {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if fresh != 1 {
		t.Errorf("expected exactly one acquirer, got %d", fresh)
	}
}

func TestMessageTracker_RunStops(t *testing.T) {
	tracker := NewMessageTracker(time.Millisecond)
	tracker.Acquire("msg-1")
	tracker.Release("msg-1", true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tracker.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for tracker.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if tracker.Len() != 0 {
		t.Error("expected Run to clean up expired IDs")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMessageState_String(t *testing.T) {
	tests := map[MessageState]string{
		StateNew:         "new",
		StateInFlight:    "in_flight",
		StateDelivered:   "delivered",
		MessageState(42): "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("%d: expected %q, got %q", state, want, got)
		}
	}
}
