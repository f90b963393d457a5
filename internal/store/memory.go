package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shehryarbajwa/browsergate/pkg/models"
)

// Memory is a mutex-guarded map of session records. Records are copied on
// the way in and out so callers cannot race on shared structs.
type Memory struct {
	mu      sync.RWMutex
	records map[string]models.Session
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]models.Session),
	}
}

func (m *Memory) Save(ctx context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[s.ID] = *s
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *Memory) List(ctx context.Context) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Session, 0, len(m.records))
	for _, rec := range m.records {
		r := rec
		out = append(out, &r)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, id)
	return nil
}

func (m *Memory) Close() error {
	return nil
}
