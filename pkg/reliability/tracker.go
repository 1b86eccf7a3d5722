package reliability

import (
	"context"
	"sync"
	"time"
)

// MessageState is the state of a received message ID
type MessageState int

const (
	StateNew       MessageState = iota // not seen within the window
	StateInFlight                      // a copy is being processed
	StateDelivered                     // delivered within the window
)

func (s MessageState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInFlight:
		return "in_flight"
	case StateDelivered:
		return "delivered"
	default:
		return "unknown"
	}
}

// MessageTracker remembers delivered message IDs for duplicate detection
type MessageTracker struct {
	mu        sync.Mutex
	delivered map[string]time.Time
	inFlight  map[string]struct{}

	duplicateWindow time.Duration
	now             func() time.Time
}

// NewMessageTracker creates a tracker that remembers delivered messages
// for duplicateWindow.
func NewMessageTracker(duplicateWindow time.Duration) *MessageTracker {
	return &MessageTracker{
		delivered:       make(map[string]time.Time),
		inFlight:        make(map[string]struct{}),
		duplicateWindow: duplicateWindow,
		now:             time.Now,
	}
}

// Acquire returns the state of messageID. When it is StateNew the ID is
// marked in flight and the caller must call Release.
func (t *MessageTracker) Acquire(messageID string) MessageState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.inFlight[messageID]; ok {
		return StateInFlight
	}
	if at, ok := t.delivered[messageID]; ok {
		if t.now().Sub(at) < t.duplicateWindow {
			return StateDelivered
		}
		delete(t.delivered, messageID)
	}
	t.inFlight[messageID] = struct{}{}
	return StateNew
}

// Release ends processing of an acquired message. Only delivered messages
// are remembered; a rejected message may be retransmitted and processed again.
func (t *MessageTracker) Release(messageID string, delivered bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.inFlight, messageID)
	if delivered {
		t.delivered[messageID] = t.now()
	}
}

// IsDuplicate reports whether messageID was delivered within the window
func (t *MessageTracker) IsDuplicate(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	at, ok := t.delivered[messageID]
	return ok && t.now().Sub(at) < t.duplicateWindow
}

// Len returns the number of remembered message IDs
func (t *MessageTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.delivered)
}

// Cleanup forgets message IDs older than the window
func (t *MessageTracker) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for msgID, at := range t.delivered {
		if now.Sub(at) >= t.duplicateWindow {
			delete(t.delivered, msgID)
		}
	}
}

// Run calls Cleanup every interval until ctx is done
func (t *MessageTracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Cleanup()
		}
	}
}
