// Package ledger records simulated trades and computes their profit and loss.
//
// Each trade moves open → closed exactly once, either by Close at a market
// exit price or by Resolve when the market settles. Every mutation loads the
// whole ledger, changes a copy, and saves it back; if the save fails the
// operation fails and nothing changes.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/metrics"
	"github.com/atmx/paper-engine/internal/model"
	"github.com/atmx/paper-engine/internal/store"
)

var (
	// ErrInvalidPrice is returned for an entry price outside (0, 100) or an
	// exit price outside [0, 100].
	ErrInvalidPrice = errors.New("ledger: invalid price")

	// ErrInvalidAmount is returned when the dollar amount is not positive.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")

	// ErrInvalidSide is returned for a side other than BUY or SELL.
	ErrInvalidSide = errors.New("ledger: side must be BUY or SELL")

	// ErrTradeNotFound is returned when no trade has the given ID.
	ErrTradeNotFound = errors.New("ledger: trade not found")

	// ErrTradeClosed is returned when closing or resolving a trade that is
	// already closed.
	ErrTradeClosed = errors.New("ledger: trade already closed")

	// ErrCleanupNotConfirmed is returned by an unconfirmed Cleanup together
	// with a dry-run report.
	ErrCleanupNotConfirmed = errors.New("ledger: cleanup requires confirmation")
)

// DefaultStartingBalance is the paper account's opening cash.
var DefaultStartingBalance = decimal.NewFromInt(10000)

// Ledger is the paper-trade state machine. A single Ledger serializes its
// own writers; it does not coordinate with other processes sharing the
// same store.
type Ledger struct {
	repo            store.TradeStore
	startingBalance decimal.Decimal
	now             func() time.Time
	mu              sync.Mutex
}

// New creates a ledger over repo. A zero startingBalance selects
// DefaultStartingBalance.
func New(repo store.TradeStore, startingBalance decimal.Decimal) *Ledger {
	if startingBalance.IsZero() {
		startingBalance = DefaultStartingBalance
	}
	return &Ledger{
		repo:            repo,
		startingBalance: startingBalance,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// OpenRequest describes a new paper trade.
type OpenRequest struct {
	MarketSlug      string          `json:"market_slug"`
	Question        string          `json:"question"`
	Outcome         string          `json:"outcome"`
	Side            string          `json:"side"` // defaults to BUY
	EntryPriceCents decimal.Decimal `json:"entry_price_cents"`
	Amount          decimal.Decimal `json:"amount"`
	Rationale       string          `json:"rationale"`
	Confidence      string          `json:"confidence"`
	Test            bool            `json:"test"`
}

// maxShares is the largest share count a trade can hold.
var maxShares = decimal.NewFromInt(math.MaxInt64)

// Shares is the whole number of contracts amount buys at entry cents. A
// count that does not fit in an int64 is rejected with ErrInvalidAmount.
func Shares(amount, entryPriceCents decimal.Decimal) (int64, error) {
	q, _ := amount.Mul(model.Hundred).QuoRem(entryPriceCents, 0)
	if q.GreaterThan(maxShares) {
		return 0, fmt.Errorf("%w: %s buys more than %s shares", ErrInvalidAmount, amount, maxShares)
	}
	return q.IntPart(), nil
}

// Open records a new trade. Prices of exactly 0 or 100 imply a settled
// market and are rejected.
func (l *Ledger) Open(ctx context.Context, req OpenRequest) (model.Trade, error) {
	defer metrics.Since("open", time.Now())

	side := strings.ToUpper(strings.TrimSpace(req.Side))
	if side == "" {
		side = model.SideBuy
	}
	if side != model.SideBuy && side != model.SideSell {
		return model.Trade{}, fmt.Errorf("%w: %q", ErrInvalidSide, req.Side)
	}
	if !req.EntryPriceCents.IsPositive() || req.EntryPriceCents.GreaterThanOrEqual(model.Hundred) {
		return model.Trade{}, fmt.Errorf("%w: entry %s not in (0, 100)", ErrInvalidPrice, req.EntryPriceCents)
	}
	if !req.Amount.IsPositive() {
		return model.Trade{}, fmt.Errorf("%w: %s", ErrInvalidAmount, req.Amount)
	}
	shares, err := Shares(req.Amount, req.EntryPriceCents)
	if err != nil {
		return model.Trade{}, err
	}

	trade := model.Trade{
		ID:              uuid.NewString(),
		Side:            side,
		MarketSlug:      req.MarketSlug,
		Question:        req.Question,
		Outcome:         req.Outcome,
		EntryPriceCents: req.EntryPriceCents,
		Amount:          req.Amount,
		Shares:          shares,
		Rationale:       req.Rationale,
		Confidence:      req.Confidence,
		OpenedAt:        l.now(),
		Status:          model.StatusOpen,
		Test:            req.Test || strings.HasPrefix(req.MarketSlug, model.TestSlugPrefix),
	}

	err = l.mutate(ctx, func(trades []model.Trade) ([]model.Trade, error) {
		return append(trades, trade), nil
	})
	if err != nil {
		return model.Trade{}, err
	}

	metrics.TradesOpened.WithLabelValues(side).Inc()
	slog.Info("paper trade opened",
		"id", trade.ID,
		"market", trade.MarketSlug,
		"side", side,
		"entry", trade.EntryPriceCents.String(),
		"amount", trade.Amount.String(),
		"shares", trade.Shares,
		"test", trade.Test,
	)
	return trade, nil
}

// Close exits an open trade at exitPriceCents. P&L is
// shares × exit / 100 − amount, rounded to cents.
func (l *Ledger) Close(ctx context.Context, id string, exitPriceCents decimal.Decimal) (model.Trade, error) {
	defer metrics.Since("close", time.Now())

	if exitPriceCents.IsNegative() || exitPriceCents.GreaterThan(model.Hundred) {
		return model.Trade{}, fmt.Errorf("%w: exit %s not in [0, 100]", ErrInvalidPrice, exitPriceCents)
	}

	trade, err := l.settle(ctx, id, func(t *model.Trade) {
		proceeds := decimal.NewFromInt(t.Shares).Mul(exitPriceCents).Div(model.Hundred)
		pnl := proceeds.Sub(t.Amount).Round(2)
		exit := exitPriceCents
		t.ExitPriceCents = &exit
		t.PnL = &pnl
	})
	if err != nil {
		return model.Trade{}, err
	}

	metrics.TradesClosed.WithLabelValues("close").Inc()
	slog.Info("paper trade closed", "id", id, "exit", exitPriceCents.String(), "pnl", trade.PnL.String())
	return trade, nil
}

// Resolve settles an open trade. A winning share pays $1, a losing one
// nothing; the exit price is recorded as 100 or 0 accordingly.
func (l *Ledger) Resolve(ctx context.Context, id string, won bool) (model.Trade, error) {
	defer metrics.Since("resolve", time.Now())

	trade, err := l.settle(ctx, id, func(t *model.Trade) {
		payout, exit := decimal.Zero, decimal.Zero
		if won {
			payout, exit = decimal.NewFromInt(t.Shares), model.Hundred
		}
		pnl := payout.Sub(t.Amount).Round(2)
		w := won
		t.ExitPriceCents = &exit
		t.PnL = &pnl
		t.Won = &w
	})
	if err != nil {
		return model.Trade{}, err
	}

	metrics.TradesClosed.WithLabelValues("resolve").Inc()
	slog.Info("paper trade resolved", "id", id, "won", won, "pnl", trade.PnL.String())
	return trade, nil
}

// settle applies the terminal transition fn to an open trade.
func (l *Ledger) settle(ctx context.Context, id string, fn func(*model.Trade)) (model.Trade, error) {
	var settled model.Trade
	err := l.mutate(ctx, func(trades []model.Trade) ([]model.Trade, error) {
		i := slices.IndexFunc(trades, func(t model.Trade) bool { return t.ID == id })
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrTradeNotFound, id)
		}
		t := trades[i]
		if t.Status != model.StatusOpen {
			return nil, fmt.Errorf("%w: %s", ErrTradeClosed, id)
		}
		fn(&t)
		closedAt := l.now()
		t.Status = model.StatusClosed
		t.ClosedAt = &closedAt
		trades[i] = t
		settled = t
		return trades, nil
	})
	return settled, err
}

// CleanupReport describes what Cleanup removed or would remove.
type CleanupReport struct {
	WouldRemove int  `json:"would_remove"`
	Removed     int  `json:"removed"`
	Remaining   int  `json:"remaining"`
	DryRun      bool `json:"dry_run"`
}

// Cleanup permanently deletes every test trade. Without confirm it changes
// nothing and returns a dry-run report with ErrCleanupNotConfirmed.
func (l *Ledger) Cleanup(ctx context.Context, confirm bool) (CleanupReport, error) {
	defer metrics.Since("cleanup", time.Now())

	var report CleanupReport
	err := l.mutate(ctx, func(trades []model.Trade) ([]model.Trade, error) {
		kept := slices.DeleteFunc(trades, func(t model.Trade) bool { return t.Test })
		report.WouldRemove = len(trades) - len(kept)
		report.Remaining = len(kept)
		if !confirm {
			report.DryRun = true
			return nil, ErrCleanupNotConfirmed
		}
		report.Removed = report.WouldRemove
		return kept, nil
	})
	if err != nil {
		return report, err
	}

	metrics.TestTradesRemoved.Add(float64(report.Removed))
	slog.Info("test trades removed", "removed", report.Removed, "remaining", report.Remaining)
	return report, nil
}

// mutate runs one serialized load-modify-save cycle. fn receives a private
// copy of the ledger; returning an error aborts without saving.
func (l *Ledger) mutate(ctx context.Context, fn func([]model.Trade) ([]model.Trade, error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	trades, err := l.repo.LoadTrades(ctx)
	if err != nil {
		return fmt.Errorf("load trades: %w", err)
	}
	next, err := fn(slices.Clone(trades))
	if err != nil {
		return err
	}
	if err := l.repo.SaveTrades(ctx, next); err != nil {
		return fmt.Errorf("save trades: %w", err)
	}
	return nil
}
