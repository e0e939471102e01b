// Package model defines the core domain types shared across the paper engine.
// All monetary values and prices use shopspring/decimal, never float64 for money.
// Prices are quoted in cents of a $1 payout (0..100).
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Trade and position statuses.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
	StatusTest   = "test"
)

// TestSlugPrefix marks markets used for smoke-testing the pipeline. Trades on
// such markets never count toward exposure and are removed by cleanup.
const TestSlugPrefix = "test"

// Hundred is the cents-per-dollar scale of a binary contract.
var Hundred = decimal.NewFromInt(100)

// Position is a simulated holding as seen by the exposure calculator.
type Position struct {
	ID              string          `json:"id"`
	MarketName      string          `json:"market_name"`
	MarketSlug      string          `json:"market_slug"`
	Shares          int64           `json:"shares"`
	EntryPriceCents decimal.Decimal `json:"entry_price_cents"`
	Status          string          `json:"status"` // "open", "closed", "test"
}

// Counts reports whether the position contributes to portfolio value.
func (p Position) Counts() bool {
	return p.Status == StatusOpen
}

// Value is shares × entry price in dollars.
func (p Position) Value() decimal.Decimal {
	return decimal.NewFromInt(p.Shares).Mul(p.EntryPriceCents).Div(Hundred)
}

// NarrativeConfig is one thematic bucket of correlated markets.
type NarrativeConfig struct {
	Name           string          `json:"name"`
	Keywords       []string        `json:"keywords"`
	MaxExposurePct decimal.Decimal `json:"max_exposure_pct"`
	Description    string          `json:"description"`
}

// Decision is the result of a correlation check. Allowed=false is a normal
// business outcome, not an error.
type Decision struct {
	Allowed            bool            `json:"allowed"`
	Narrative          string          `json:"narrative"`
	CurrentExposurePct decimal.Decimal `json:"current_exposure_pct"`
	MaxExposurePct     decimal.Decimal `json:"max_exposure_pct"`
	WouldBeExposurePct decimal.Decimal `json:"would_be_exposure_pct"`
	Warning            string          `json:"warning"`
	NearLimit          bool            `json:"near_limit"`
	OtherPositions     []Position      `json:"other_positions"`
}

// NewDecision returns an allowing decision with every field at its default.
func NewDecision() Decision {
	return Decision{
		Allowed:            true,
		CurrentExposurePct: decimal.Zero,
		MaxExposurePct:     Hundred,
		WouldBeExposurePct: decimal.Zero,
		OtherPositions:     []Position{},
	}
}

// MarshalJSON writes an empty Narrative or Warning as null.
func (d Decision) MarshalJSON() ([]byte, error) {
	type plain Decision
	return json.Marshal(struct {
		plain
		Narrative *string `json:"narrative"`
		Warning   *string `json:"warning"`
	}{plain(d), nullString(d.Narrative), nullString(d.Warning)})
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Trade is an entry in the paper-trade ledger.
// Once closed it is never reopened; PnL is set exactly once.
type Trade struct {
	ID              string           `json:"id"`
	Side            string           `json:"side"` // "BUY" or "SELL"
	MarketSlug      string           `json:"market_slug"`
	Question        string           `json:"question"`
	Outcome         string           `json:"outcome"` // e.g. "Yes"
	EntryPriceCents decimal.Decimal  `json:"entry_price_cents"`
	Amount          decimal.Decimal  `json:"amount"` // dollars spent
	Shares          int64            `json:"shares"`
	Rationale       string           `json:"rationale"`
	Confidence      string           `json:"confidence,omitempty"`
	OpenedAt        time.Time        `json:"opened_at"`
	Status          string           `json:"status"` // "open", "closed"
	Test            bool             `json:"test"`
	ExitPriceCents  *decimal.Decimal `json:"exit_price_cents"`
	PnL             *decimal.Decimal `json:"pnl"`
	Won             *bool            `json:"won,omitempty"`
	ClosedAt        *time.Time       `json:"closed_at,omitempty"`
}

// Position converts the trade into the exposure view of the same holding.
func (t Trade) Position() Position {
	status := t.Status
	if t.Test {
		status = StatusTest
	}
	return Position{
		ID:              t.ID,
		MarketName:      t.Question,
		MarketSlug:      t.MarketSlug,
		Shares:          t.Shares,
		EntryPriceCents: t.EntryPriceCents,
		Status:          status,
	}
}

// NewsEvent is a market-moving headline reported by the external monitor.
type NewsEvent struct {
	ID          string           `json:"id"`
	Headline    string           `json:"headline"`
	Source      string           `json:"source"`
	MarketSlug  string           `json:"market_slug"`
	Timestamp   time.Time        `json:"timestamp"`
	PriceBefore *decimal.Decimal `json:"price_before,omitempty"`
	PriceAfter  *decimal.Decimal `json:"price_after,omitempty"`
}

// Signal is a subscriber-facing projection of a trade or a news event.
// Signals are rebuilt on demand and never persisted.
type Signal struct {
	ID            string           `json:"id"`
	Timestamp     time.Time        `json:"timestamp"`
	Headline      string           `json:"headline"`
	Market        string           `json:"market"`
	MarketSlug    string           `json:"market_slug"`
	Action        string           `json:"action"`
	Confidence    string           `json:"confidence"`
	PriceAtSignal decimal.Decimal  `json:"price_at_signal"`
	CurrentPrice  *decimal.Decimal `json:"current_price,omitempty"`
	PnL           string           `json:"pnl,omitempty"`
	Status        string           `json:"status"` // "open", "closed", "pending"
}
