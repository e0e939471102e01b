package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/model"
)

// Filter narrows List results. Zero value lists everything.
type Filter struct {
	Status      string // "open", "closed" or "" for both
	ExcludeTest bool
}

func (f Filter) match(t model.Trade) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return !f.ExcludeTest || !t.Test
}

// Get returns a single trade.
func (l *Ledger) Get(ctx context.Context, id string) (model.Trade, error) {
	trades, err := l.repo.LoadTrades(ctx)
	if err != nil {
		return model.Trade{}, fmt.Errorf("load trades: %w", err)
	}
	for _, t := range trades {
		if t.ID == id {
			return t, nil
		}
	}
	return model.Trade{}, fmt.Errorf("%w: %s", ErrTradeNotFound, id)
}

// List returns trades matching f in the order they were opened.
func (l *Ledger) List(ctx context.Context, f Filter) ([]model.Trade, error) {
	trades, err := l.repo.LoadTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	out := []model.Trade{}
	for _, t := range trades {
		if f.match(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// OpenPositions returns the open, non-test trades as positions. It makes
// the ledger a position source for the correlation gate.
func (l *Ledger) OpenPositions(ctx context.Context) ([]model.Position, error) {
	trades, err := l.List(ctx, Filter{Status: model.StatusOpen, ExcludeTest: true})
	if err != nil {
		return nil, err
	}
	positions := make([]model.Position, 0, len(trades))
	for _, t := range trades {
		positions = append(positions, t.Position())
	}
	return positions, nil
}

// Summary is the paper account at a point in time.
type Summary struct {
	StartingBalance decimal.Decimal `json:"starting_balance"`
	CurrentBalance  decimal.Decimal `json:"current_balance"`
	TotalInvested   decimal.Decimal `json:"total_invested"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
	OpenPositions   int             `json:"open_positions"`
	ClosedTrades    int             `json:"closed_trades"`
	Wins            int             `json:"wins"`
	Losses          int             `json:"losses"`
	WinRatePct      decimal.Decimal `json:"win_rate_pct"`
	OpenTrades      []model.Trade   `json:"open_trades"`
}

// Status summarizes the account. Cash is the starting balance plus realized
// P&L minus what is tied up in open trades. A closed trade with zero P&L
// counts as a loss.
func (l *Ledger) Status(ctx context.Context, excludeTest bool) (Summary, error) {
	trades, err := l.List(ctx, Filter{ExcludeTest: excludeTest})
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		StartingBalance: l.startingBalance,
		TotalInvested:   decimal.Zero,
		RealizedPnL:     decimal.Zero,
		WinRatePct:      decimal.Zero,
		OpenTrades:      []model.Trade{},
	}
	for _, t := range trades {
		switch t.Status {
		case model.StatusOpen:
			s.OpenPositions++
			s.TotalInvested = s.TotalInvested.Add(t.Amount)
			s.OpenTrades = append(s.OpenTrades, t)
		case model.StatusClosed:
			s.ClosedTrades++
			if t.PnL != nil {
				s.RealizedPnL = s.RealizedPnL.Add(*t.PnL)
			}
			if t.PnL != nil && t.PnL.IsPositive() {
				s.Wins++
			} else {
				s.Losses++
			}
		}
	}
	s.CurrentBalance = s.StartingBalance.Add(s.RealizedPnL).Sub(s.TotalInvested)
	if s.ClosedTrades > 0 {
		s.WinRatePct = decimal.NewFromInt(int64(s.Wins)).
			Div(decimal.NewFromInt(int64(s.ClosedTrades))).
			Mul(model.Hundred).
			Round(2)
	}
	return s, nil
}
