package archive

import (
	"context"
	"strings"
	"sync"
)

type Memory struct {
	mu    sync.RWMutex
	items map[string]Snapshot
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string]Snapshot)}
}

func (m *Memory) Put(_ context.Context, s Snapshot) error {
	if err := validate(s); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[s.ID]; ok {
		return ErrExists
	}
	s.Payload = append([]byte(nil), s.Payload...)
	m.items[s.ID] = s
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.items[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) List(_ context.Context, q Query) ([]Snapshot, error) {
	prefix := q.prefix()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Snapshot{}
	for id, s := range m.items {
		if strings.HasPrefix(id, prefix) {
			out = append(out, s)
		}
	}
	sortByID(out)
	return out, nil
}

func (m *Memory) Close() error { return nil }
