package storage

import (
	"context"
	"sync"
)

// Memory holds State in process memory. Reads and writes exchange deep
// copies so callers never share maps with the store.
type Memory struct {
	state  State
	closed bool
	mu     sync.RWMutex
}

// NewMemory creates an empty in-memory Storage.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Read(_ context.Context) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	return m.state.Clone(), nil
}

func (m *Memory) Write(_ context.Context, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	normalized, err := state.Normalize()
	if err != nil {
		return err
	}
	if normalized == nil {
		normalized = State{}
	}
	m.state = normalized
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.state = nil
	return nil
}
