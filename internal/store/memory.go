package store

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/atmx/paper-engine/internal/model"
)

// MemoryStore implements Store with in-memory collections. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	overrides map[string]string
	trades    []model.Trade
	positions []model.Position
	news      []model.NewsEvent
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		overrides: make(map[string]string),
	}
}

func (s *MemoryStore) LoadOverrides(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.overrides), nil
}

func (s *MemoryStore) SaveOverrides(_ context.Context, overrides map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	s.overrides = maps.Clone(overrides)
	if s.overrides == nil {
		s.overrides = make(map[string]string)
	}
	return nil
}

func (s *MemoryStore) LoadTrades(_ context.Context) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.trades), nil
}

func (s *MemoryStore) SaveTrades(_ context.Context, trades []model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = slices.Clone(trades)
	return nil
}

func (s *MemoryStore) LoadPositions(_ context.Context) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.positions), nil
}

func (s *MemoryStore) SavePositions(_ context.Context, positions []model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.positions = slices.Clone(positions)
	return nil
}

func (s *MemoryStore) LoadNews(_ context.Context) ([]model.NewsEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.news), nil
}

func (s *MemoryStore) SaveNews(_ context.Context, events []model.NewsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.news = slices.Clone(events)
	return nil
}
