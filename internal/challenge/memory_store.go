package challenge

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atlashq/atlas-core/internal/pagination"
)

// MemoryStore is an in-memory challenge store for demo/development mode.
type MemoryStore struct {
	challenges map[string]*Challenge
	mu         sync.RWMutex
}

// NewMemoryStore creates a new in-memory challenge store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		challenges: make(map[string]*Challenge),
	}
}

func (m *MemoryStore) Create(ctx context.Context, c *Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.challenges[c.ID] = c.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.challenges[id]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	return c.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, c *Challenge, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.challenges[c.ID]
	if !ok {
		return ErrChallengeNotFound
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}

	c.Version = expectedVersion + 1
	m.challenges[c.ID] = c.Clone()
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, before *pagination.Cursor, limit int) ([]*Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Challenge
	for _, c := range m.challenges {
		if c.FromUserID != userID && c.ToUserID != userID {
			continue
		}
		if before != nil && !olderThanCursor(c, before) {
			continue
		}
		result = append(result, c.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func olderThanCursor(c *Challenge, cur *pagination.Cursor) bool {
	if c.CreatedAt.Equal(cur.CreatedAt) {
		return c.ID < cur.ID
	}
	return c.CreatedAt.Before(cur.CreatedAt)
}

func (m *MemoryStore) ListExpirable(ctx context.Context, before time.Time, limit int) ([]*Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Challenge
	for _, c := range m.challenges {
		if expirable(c, before) {
			result = append(result, c.Clone())
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}
