// Package signal projects ledger trades and monitored news events into the
// subscriber feed. Signals are rebuilt from their sources on every request
// and never stored.
package signal

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/model"
)

// Signal statuses beyond the trade statuses.
const StatusPending = "pending"

// ActionNewsAlert is the action of every news-derived signal.
const ActionNewsAlert = "NEWS ALERT"

const (
	headlinePrefixLen = 30
	minSlugToken      = 4
	minSharedTokens   = 2
)

var (
	highMove   = decimal.NewFromInt(10)
	mediumMove = decimal.NewFromInt(5)
)

// Project maps trades and news events to signals, newest first. Test trades
// are left out. A news event is dropped when a trade signal already covers
// it: the start of its headline appears in a trade headline, or its market
// slug matches a traded slug.
func Project(trades []model.Trade, events []model.NewsEvent) []model.Signal {
	signals := make([]model.Signal, 0, len(trades)+len(events))
	var headlines, slugs []string
	for _, t := range trades {
		if t.Test {
			continue
		}
		s := fromTrade(t)
		signals = append(signals, s)
		headlines = append(headlines, strings.ToLower(s.Headline))
		slugs = append(slugs, t.MarketSlug)
	}

	for _, e := range events {
		if coveredByHeadline(e.Headline, headlines) || coveredBySlug(e.MarketSlug, slugs) {
			continue
		}
		signals = append(signals, fromNews(e))
	}

	slices.SortStableFunc(signals, func(a, b model.Signal) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return signals
}

func fromTrade(t model.Trade) model.Signal {
	headline := t.Rationale
	if headline == "" {
		headline = "Paper trade opened: " + t.Question
	}
	confidence := t.Confidence
	if confidence == "" {
		confidence = "high"
	}
	current := t.EntryPriceCents
	if t.ExitPriceCents != nil {
		current = *t.ExitPriceCents
	}

	s := model.Signal{
		ID:            "trade-" + t.ID,
		Timestamp:     t.OpenedAt,
		Headline:      headline,
		Market:        t.Question,
		MarketSlug:    t.MarketSlug,
		Action:        strings.TrimSpace(t.Side + " " + strings.ToUpper(t.Outcome)),
		Confidence:    confidence,
		PriceAtSignal: t.EntryPriceCents,
		CurrentPrice:  &current,
		Status:        t.Status,
	}
	if t.Status == model.StatusClosed && t.PnL != nil {
		s.PnL = FormatPnL(*t.PnL)
	}
	return s
}

func fromNews(e model.NewsEvent) model.Signal {
	price := decimal.Zero
	switch {
	case e.PriceAfter != nil:
		price = *e.PriceAfter
	case e.PriceBefore != nil:
		price = *e.PriceBefore
	}
	market := e.MarketSlug
	if market == "" {
		market = e.Source
	}
	return model.Signal{
		ID:            "news-" + e.ID,
		Timestamp:     e.Timestamp,
		Headline:      e.Headline,
		Market:        market,
		MarketSlug:    e.MarketSlug,
		Action:        ActionNewsAlert,
		Confidence:    newsConfidence(e),
		PriceAtSignal: price,
		Status:        StatusPending,
	}
}

// newsConfidence grades the price move in percentage points.
func newsConfidence(e model.NewsEvent) string {
	if e.PriceBefore == nil || e.PriceAfter == nil {
		return "low"
	}
	move := e.PriceAfter.Sub(*e.PriceBefore).Abs()
	switch {
	case move.GreaterThanOrEqual(highMove):
		return "high"
	case move.GreaterThanOrEqual(mediumMove):
		return "medium"
	default:
		return "low"
	}
}

func coveredByHeadline(headline string, tradeHeadlines []string) bool {
	prefix := strings.ToLower(strings.TrimSpace(headline))
	if r := []rune(prefix); len(r) > headlinePrefixLen {
		prefix = string(r[:headlinePrefixLen])
	}
	if prefix == "" {
		return false
	}
	for _, h := range tradeHeadlines {
		if strings.Contains(h, prefix) {
			return true
		}
	}
	return false
}

func coveredBySlug(slug string, tradeSlugs []string) bool {
	if slug == "" {
		return false
	}
	tokens := slugTokens(slug)
	for _, ts := range tradeSlugs {
		if ts == slug {
			return true
		}
		shared := 0
		for _, tok := range slugTokens(ts) {
			if slices.Contains(tokens, tok) {
				shared++
			}
		}
		if shared >= minSharedTokens {
			return true
		}
	}
	return false
}

// slugTokens returns the distinct lower-cased tokens of a slug that are long
// enough to be meaningful.
func slugTokens(slug string) []string {
	var out []string
	for _, tok := range strings.Split(strings.ToLower(slug), "-") {
		if len(tok) >= minSlugToken && !slices.Contains(out, tok) {
			out = append(out, tok)
		}
	}
	return out
}

// FormatPnL renders dollars as +$X.XX, -$X.XX or $0.00.
func FormatPnL(pnl decimal.Decimal) string {
	pnl = pnl.Round(2)
	switch {
	case pnl.IsPositive():
		return "+$" + pnl.StringFixed(2)
	case pnl.IsNegative():
		return "-$" + pnl.Abs().StringFixed(2)
	default:
		return "$0.00"
	}
}
