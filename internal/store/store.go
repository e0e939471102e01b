// Package store defines the persistence interface for the paper engine.
//
// Every collection is a small document that is loaded and saved in full:
// callers load, mutate a copy, and persist the whole collection. A missing
// document reads as an empty collection. Implementations include in-memory
// (testing), JSON files, Badger, SQLite, PostgreSQL, and a Redis read-through
// cache that wraps any of them.
package store

import (
	"context"

	"github.com/atmx/paper-engine/internal/model"
)

// Document names shared by every backend.
const (
	DocOverrides = "overrides"
	DocTrades    = "trades"
	DocPositions = "positions"
	DocNews      = "news"
)

// OverrideStore persists the market slug → narrative override table.
type OverrideStore interface {
	// LoadOverrides returns the full override table.
	LoadOverrides(ctx context.Context) (map[string]string, error)

	// SaveOverrides replaces the override table.
	SaveOverrides(ctx context.Context, overrides map[string]string) error
}

// TradeStore persists the paper-trade ledger.
type TradeStore interface {
	// LoadTrades returns every trade in ledger order.
	LoadTrades(ctx context.Context) ([]model.Trade, error)

	// SaveTrades replaces the ledger.
	SaveTrades(ctx context.Context, trades []model.Trade) error
}

// PositionStore persists externally supplied positions.
type PositionStore interface {
	LoadPositions(ctx context.Context) ([]model.Position, error)
	SavePositions(ctx context.Context, positions []model.Position) error
}

// NewsStore persists news events reported by the external monitor.
type NewsStore interface {
	LoadNews(ctx context.Context) ([]model.NewsEvent, error)
	SaveNews(ctx context.Context, events []model.NewsEvent) error
}

// Store is the full persistence interface.
type Store interface {
	OverrideStore
	TradeStore
	PositionStore
	NewsStore
}
