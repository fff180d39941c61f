package game

import (
	"sort"
	"sync"
)

// RoundRegistry holds every round that is not yet archived, across games.
type RoundRegistry interface {
	Put(r *Round)
	Get(id string) (*Round, bool)
	Delete(id string)
	List(game GameType) []*Round
}

type MemoryRegistry struct {
	mu     sync.RWMutex
	rounds map[string]*Round
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{rounds: make(map[string]*Round)}
}

func (m *MemoryRegistry) Put(r *Round) {
	m.mu.Lock()
	m.rounds[r.ID] = r
	m.mu.Unlock()
}

func (m *MemoryRegistry) Get(id string) (*Round, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rounds[id]
	return r, ok
}

func (m *MemoryRegistry) Delete(id string) {
	m.mu.Lock()
	delete(m.rounds, id)
	m.mu.Unlock()
}

// List returns the rounds of one game, oldest first.
func (m *MemoryRegistry) List(game GameType) []*Round {
	m.mu.RLock()
	out := make([]*Round, 0)
	for _, r := range m.rounds {
		if r.Game == game {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
