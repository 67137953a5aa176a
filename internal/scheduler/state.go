package scheduler

import (
	"context"
	"sync"
)

// StateStore carries the operational flags the round loop consults: a kill
// switch that pauses matching, and the set of markets dirtied since the last
// round. Implementations must be safe for concurrent use.
type StateStore interface {
	// Paused reports whether matching is switched off.
	Paused(ctx context.Context) (bool, error)
	// MarkDirty flags a market as having pending work.
	MarkDirty(ctx context.Context, symbol string) error
	// TakeDirty returns the dirty set and clears it.
	TakeDirty(ctx context.Context) ([]string, error)
}

// MemoryState is an in-process StateStore.
type MemoryState struct {
	mu     sync.Mutex
	paused bool
	dirty  map[string]bool
}

// NewMemoryState creates an empty, unpaused state store.
func NewMemoryState() *MemoryState {
	return &MemoryState{dirty: make(map[string]bool)}
}

// SetPaused flips the kill switch.
func (s *MemoryState) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
}

func (s *MemoryState) Paused(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused, nil
}

func (s *MemoryState) MarkDirty(_ context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty[symbol] = true
	return nil
}

func (s *MemoryState) TakeDirty(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.dirty) == 0 {
		return nil, nil
	}
	symbols := make([]string, 0, len(s.dirty))
	for symbol := range s.dirty {
		symbols = append(symbols, symbol)
	}
	s.dirty = make(map[string]bool)
	return symbols, nil
}
