package publish

import (
	"context"
	"sync"
)

// MemoryPublisher stores updates in memory, useful for testing.
type MemoryPublisher struct {
	mu      sync.RWMutex
	updates []BookUpdate
}

// NewMemoryPublisher creates a new MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{updates: make([]BookUpdate, 0)}
}

// Publish appends the update to the in-memory slice.
func (m *MemoryPublisher) Publish(_ context.Context, update BookUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, update)
	return nil
}

// Count returns the number of updates stored.
func (m *MemoryPublisher) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.updates)
}

// Get returns the update at the specified index.
func (m *MemoryPublisher) Get(index int) BookUpdate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updates[index]
}

// Updates returns a copy of all updates stored.
func (m *MemoryPublisher) Updates() []BookUpdate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	updates := make([]BookUpdate, len(m.updates))
	copy(updates, m.updates)
	return updates
}

// DiscardPublisher drops all updates, useful for benchmarking.
type DiscardPublisher struct{}

// NewDiscardPublisher creates a new DiscardPublisher.
func NewDiscardPublisher() *DiscardPublisher {
	return &DiscardPublisher{}
}

// Publish does nothing.
func (p *DiscardPublisher) Publish(context.Context, BookUpdate) error {
	return nil
}
