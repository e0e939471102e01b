package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/paper-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache. Writes
// go to the primary store and invalidate the cached document; reads check
// Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SaveOverrides(ctx context.Context, overrides map[string]string) error {
	if err := s.primary.SaveOverrides(ctx, overrides); err != nil {
		return err
	}
	s.rdb.Del(ctx, docKey(DocOverrides))
	return nil
}

func (s *CachedStore) SaveTrades(ctx context.Context, trades []model.Trade) error {
	if err := s.primary.SaveTrades(ctx, trades); err != nil {
		return err
	}
	s.rdb.Del(ctx, docKey(DocTrades))
	return nil
}

func (s *CachedStore) SavePositions(ctx context.Context, positions []model.Position) error {
	if err := s.primary.SavePositions(ctx, positions); err != nil {
		return err
	}
	s.rdb.Del(ctx, docKey(DocPositions))
	return nil
}

func (s *CachedStore) SaveNews(ctx context.Context, events []model.NewsEvent) error {
	if err := s.primary.SaveNews(ctx, events); err != nil {
		return err
	}
	s.rdb.Del(ctx, docKey(DocNews))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LoadOverrides(ctx context.Context) (map[string]string, error) {
	return readThrough(ctx, s, DocOverrides, s.primary.LoadOverrides)
}

func (s *CachedStore) LoadTrades(ctx context.Context) ([]model.Trade, error) {
	return readThrough(ctx, s, DocTrades, s.primary.LoadTrades)
}

func (s *CachedStore) LoadPositions(ctx context.Context) ([]model.Position, error) {
	return readThrough(ctx, s, DocPositions, s.primary.LoadPositions)
}

func (s *CachedStore) LoadNews(ctx context.Context) ([]model.NewsEvent, error) {
	return readThrough(ctx, s, DocNews, s.primary.LoadNews)
}

// --- Cache helpers ---

func readThrough[T any](ctx context.Context, s *CachedStore, name string, load func(context.Context) (T, error)) (T, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, docKey(name)).Bytes()
	if err == nil {
		var cached T
		if json.Unmarshal(data, &cached) == nil {
			return cached, nil
		}
	}

	// Cache miss: read from primary.
	value, err := load(ctx)
	if err != nil {
		return value, err
	}

	if data, err := json.Marshal(value); err == nil {
		s.rdb.Set(ctx, docKey(name), data, s.ttl)
	}
	return value, nil
}

func docKey(name string) string { return fmt.Sprintf("paper:doc:%s", name) }
