package reporting

import (
	"context"
	"sync"
)

// Backend stores reporting items
type Backend interface {
	// Store persists one item. Implementations must be safe for concurrent use.
	Store(ctx context.Context, item Item) error

	// Close releases backend resources
	Close(ctx context.Context) error
}

// MemoryBackend keeps items in memory
type MemoryBackend struct {
	mu    sync.Mutex
	items []Item
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Store implements Backend
func (m *MemoryBackend) Store(ctx context.Context, item Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, item)
	return nil
}

// Items returns a copy of the stored items in insertion order
func (m *MemoryBackend) Items() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Item, len(m.items))
	copy(out, m.items)
	return out
}

// Len returns the number of stored items
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close implements Backend
func (m *MemoryBackend) Close(context.Context) error {
	return nil
}
