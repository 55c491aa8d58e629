package notify

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory Store for tests and single-node deployments.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]*Subscription),
	}
}

func (m *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sub, ok := m.subs[id]; ok {
		return sub, nil
	}
	return nil, fmt.Errorf("subscription not found")
}

func (m *MemoryStore) GetByUser(ctx context.Context, userID string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.UserID == userID {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (m *MemoryStore) GetByEvent(ctx context.Context, eventType string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.wants(eventType) {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (m *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}
