package checkout

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrFlowNotFound is returned when a flow does not exist.
var ErrFlowNotFound = errors.New("checkout: flow not found")

// FlowStore persists checkout flows.
type FlowStore interface {
	CreateFlow(ctx context.Context, f Flow) error
	UpdateFlow(ctx context.Context, f Flow) error
	GetFlow(ctx context.Context, id uuid.UUID) (Flow, error)
}

// MemoryStore keeps flows in process.
type MemoryStore struct {
	mu    sync.RWMutex
	flows map[uuid.UUID]Flow
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flows: make(map[uuid.UUID]Flow)}
}

// CreateFlow implements FlowStore.
func (m *MemoryStore) CreateFlow(_ context.Context, f Flow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.flows[f.ID]; exists {
		return errors.New("checkout: flow already exists")
	}
	m.flows[f.ID] = copyFlow(f)
	return nil
}

// UpdateFlow implements FlowStore.
func (m *MemoryStore) UpdateFlow(_ context.Context, f Flow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.flows[f.ID]; !exists {
		return ErrFlowNotFound
	}
	m.flows[f.ID] = copyFlow(f)
	return nil
}

// GetFlow implements FlowStore.
func (m *MemoryStore) GetFlow(_ context.Context, id uuid.UUID) (Flow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.flows[id]
	if !ok {
		return Flow{}, ErrFlowNotFound
	}
	return copyFlow(f), nil
}

func copyFlow(f Flow) Flow {
	f.History = append([]Transition{}, f.History...)
	if f.Checkout != nil {
		params := *f.Checkout
		f.Checkout = &params
	}
	return f
}
