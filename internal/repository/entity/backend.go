package entity

import (
	"context"
	"sync"

	"github.com/oshokin/door-monitor/internal/domain/door"
)

// Backend persists entity values. Implementations must make each Load and
// Save atomic; the Entities store provides serialization across calls.
type Backend interface {
	Load(ctx context.Context, id door.EntityID) (value string, exists bool, err error)
	Save(ctx context.Context, id door.EntityID, value string) error
}

// MemoryBackend keeps entity values in process memory.
type MemoryBackend struct {
	// values maps entity keys to their committed values.
	values map[door.EntityID]string
	// mu protects values.
	mu sync.RWMutex
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		values: make(map[door.EntityID]string),
	}
}

// Load returns the stored value.
func (m *MemoryBackend) Load(_ context.Context, id door.EntityID) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.values[id]

	return value, ok, nil
}

// Save replaces the stored value.
func (m *MemoryBackend) Save(_ context.Context, id door.EntityID, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[id] = value

	return nil
}
