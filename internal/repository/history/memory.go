package history

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/oshokin/door-monitor/internal/domain/workflow"
)

// MemoryStore keeps instances in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*workflow.Instance
	steps     map[string][]workflow.Step
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]*workflow.Instance),
		steps:     make(map[string][]workflow.Step),
	}
}

// CreateInstance inserts a new instance.
func (m *MemoryStore) CreateInstance(_ context.Context, instance *workflow.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[instance.ID]; ok {
		return fmt.Errorf("create instance %s: already exists", instance.ID)
	}

	m.instances[instance.ID] = instance.Clone()

	return nil
}

// GetInstance returns one instance.
func (m *MemoryStore) GetInstance(_ context.Context, id string) (*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	instance, ok := m.instances[id]
	if !ok {
		return nil, ErrNotFound
	}

	result := instance.Clone()
	result.HistoryLength = len(m.steps[id])

	return result, nil
}

// ListInstances returns instances with the given status, oldest first.
func (m *MemoryStore) ListInstances(_ context.Context, status workflow.Status) ([]*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*workflow.Instance, 0, len(m.instances))

	for id, instance := range m.instances {
		if instance.Status != status {
			continue
		}

		cloned := instance.Clone()
		cloned.HistoryLength = len(m.steps[id])
		result = append(result, cloned)
	}

	slices.SortFunc(result, func(a, b *workflow.Instance) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return result, nil
}

// Finish moves a Running instance to a terminal status.
func (m *MemoryStore) Finish(
	_ context.Context,
	id string,
	status workflow.Status,
	output []byte,
	reason string,
) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	instance, ok := m.instances[id]
	if !ok {
		return false, ErrNotFound
	}

	if instance.Status != workflow.StatusRunning {
		return false, nil
	}

	instance.Status = status
	instance.Output = append([]byte(nil), output...)
	instance.Error = reason
	instance.UpdatedAt = time.Now()

	return true, nil
}

// AppendStep records one step.
func (m *MemoryStore) AppendStep(_ context.Context, step *workflow.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[step.InstanceID]; !ok {
		return ErrNotFound
	}

	steps := m.steps[step.InstanceID]
	if step.Seq < len(steps) {
		return nil
	}

	if step.Seq != len(steps) {
		return fmt.Errorf("append step %d to %s: history has %d steps", step.Seq, step.InstanceID, len(steps))
	}

	recorded := *step
	recorded.Payload = append([]byte(nil), step.Payload...)
	m.steps[step.InstanceID] = append(steps, recorded)

	return nil
}

// LoadSteps returns the history ordered by seq.
func (m *MemoryStore) LoadSteps(_ context.Context, id string) ([]workflow.Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.instances[id]; !ok {
		return nil, ErrNotFound
	}

	return slices.Clone(m.steps[id]), nil
}
