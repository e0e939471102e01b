// Package correlation implements the narrative exposure gate that every
// paper trade passes before it is opened.
//
// A candidate market is classified into a narrative. The gate then projects
// the narrative's share of the portfolio as if the candidate were already
// held, against the post-trade portfolio value:
//
//	wouldBe = (exposure + amount) / (portfolio + amount) × 100
//
// and allows the trade when wouldBe ≤ the narrative's ceiling. A single
// trade into an empty portfolio therefore projects to 100% and is blocked
// unless the narrative's ceiling is 100%. Unclassified markets are exempt.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/exposure"
	"github.com/atmx/paper-engine/internal/metrics"
	"github.com/atmx/paper-engine/internal/model"
)

// ErrNegativeAmount is returned when a candidate trade has a negative size.
var ErrNegativeAmount = errors.New("correlation: candidate amount must not be negative")

// nearLimitRatio is the share of a ceiling above which an allowed trade is
// flagged as near the limit.
var nearLimitRatio = decimal.RequireFromString("0.8")

// Classifier is the read side of the narrative registry.
type Classifier interface {
	Snapshot() func(marketName, marketSlug string) (string, bool)
	Lookup(name string) (model.NarrativeConfig, bool)
}

// PositionSource supplies the open, non-test positions of the portfolio.
type PositionSource interface {
	OpenPositions(ctx context.Context) ([]model.Position, error)
}

// Gate decides whether a candidate trade keeps every narrative within its
// exposure ceiling.
type Gate struct {
	registry  Classifier
	positions PositionSource
}

// NewGate creates a gate over the given registry and position source.
func NewGate(registry Classifier, positions PositionSource) *Gate {
	return &Gate{registry: registry, positions: positions}
}

// Check evaluates a candidate trade of amount dollars on the given market.
// A blocked trade is reported through Decision.Allowed, not as an error;
// errors are reserved for invalid input and position loading failures.
func (g *Gate) Check(ctx context.Context, marketName, marketSlug string, amount decimal.Decimal) (model.Decision, error) {
	if amount.IsNegative() {
		return model.Decision{}, ErrNegativeAmount
	}

	decision := model.NewDecision()

	// One snapshot for the candidate and every held position.
	classify := exposure.ClassifyFunc(g.registry.Snapshot())
	name, ok := classify(marketName, marketSlug)
	if !ok {
		metrics.CorrelationChecks.WithLabelValues("none", "exempt").Inc()
		return decision, nil
	}
	cfg, ok := g.registry.Lookup(name)
	if !ok {
		return model.Decision{}, fmt.Errorf("correlation: narrative %q missing from catalogue", name)
	}

	positions, err := g.positions.OpenPositions(ctx)
	if err != nil {
		return model.Decision{}, fmt.Errorf("load positions: %w", err)
	}

	current, others := exposure.Exposure(name, positions, classify)
	portfolio := exposure.PortfolioValue(positions)

	currentPct := exposure.Percent(current, portfolio)
	wouldBePct := exposure.Percent(current.Add(amount), portfolio.Add(amount))

	decision.Narrative = name
	decision.CurrentExposurePct = currentPct.Round(2)
	decision.MaxExposurePct = cfg.MaxExposurePct
	decision.WouldBeExposurePct = wouldBePct.Round(2)
	decision.OtherPositions = others
	decision.Allowed = wouldBePct.LessThanOrEqual(cfg.MaxExposurePct)

	if !decision.Allowed {
		decision.Warning = fmt.Sprintf("would exceed %s exposure limit: %s%% > %s%% max",
			name, wouldBePct.StringFixed(1), cfg.MaxExposurePct.StringFixed(1))
		metrics.CorrelationChecks.WithLabelValues(name, "blocked").Inc()
		slog.Info("trade blocked by correlation gate",
			"market", marketSlug,
			"narrative", name,
			"would_be_pct", decision.WouldBeExposurePct.String(),
			"max_pct", cfg.MaxExposurePct.String(),
		)
		return decision, nil
	}

	decision.NearLimit = wouldBePct.GreaterThan(cfg.MaxExposurePct.Mul(nearLimitRatio))
	metrics.CorrelationChecks.WithLabelValues(name, "allowed").Inc()
	return decision, nil
}
