// Package exposure computes portfolio value and per-narrative concentration
// over a snapshot of positions. Every function is pure.
package exposure

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/model"
)

// ClassifyFunc maps a market to its narrative, or ("", false) when the
// market belongs to none.
type ClassifyFunc func(marketName, marketSlug string) (string, bool)

// PortfolioValue is Σ shares × entry / 100 over open positions. Closed and
// test positions are ignored.
func PortfolioValue(positions []model.Position) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		if p.Counts() {
			total = total.Add(p.Value())
		}
	}
	return total
}

// Exposure sums the value of the open positions classified into narrative
// and returns them. It returns (0, []) if none match.
func Exposure(narrative string, positions []model.Position, classify ClassifyFunc) (decimal.Decimal, []model.Position) {
	total := decimal.Zero
	matched := []model.Position{}
	for _, p := range positions {
		if !p.Counts() {
			continue
		}
		if name, ok := classify(p.MarketName, p.MarketSlug); ok && name == narrative {
			total = total.Add(p.Value())
			matched = append(matched, p)
		}
	}
	return total, matched
}

// Percent returns part / whole × 100, or zero when whole is zero.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(model.Hundred)
}

// NarrativeExposure is one row of a Report.
type NarrativeExposure struct {
	Narrative      string           `json:"narrative"`
	Description    string           `json:"description"`
	Exposure       decimal.Decimal  `json:"exposure"`
	ExposurePct    decimal.Decimal  `json:"exposure_pct"`
	MaxExposurePct decimal.Decimal  `json:"max_exposure_pct"`
	UtilisationPct decimal.Decimal  `json:"utilisation_pct"`
	Positions      []model.Position `json:"positions"`
}

// Report is the per-narrative breakdown of a portfolio.
type Report struct {
	PortfolioValue decimal.Decimal     `json:"portfolio_value"`
	Narratives     []NarrativeExposure `json:"narratives"`
	Unclassified   decimal.Decimal     `json:"unclassified"`
}

// Summary classifies every open position once and reports, in catalogue
// order, each narrative that holds at least one position. Percentages are
// rounded to two decimals.
func Summary(positions []model.Position, narratives []model.NarrativeConfig, classify ClassifyFunc) Report {
	byNarrative := make(map[string][]model.Position)
	unclassified := decimal.Zero
	for _, p := range positions {
		if !p.Counts() {
			continue
		}
		name, ok := classify(p.MarketName, p.MarketSlug)
		if !ok {
			unclassified = unclassified.Add(p.Value())
			continue
		}
		byNarrative[name] = append(byNarrative[name], p)
	}

	total := PortfolioValue(positions)
	report := Report{
		PortfolioValue: total,
		Narratives:     []NarrativeExposure{},
		Unclassified:   unclassified,
	}
	for _, n := range narratives {
		held := byNarrative[n.Name]
		if len(held) == 0 {
			continue
		}
		amount := PortfolioValue(held)
		pct := Percent(amount, total)
		report.Narratives = append(report.Narratives, NarrativeExposure{
			Narrative:      n.Name,
			Description:    n.Description,
			Exposure:       amount,
			ExposurePct:    pct.Round(2),
			MaxExposurePct: n.MaxExposurePct,
			UtilisationPct: Percent(pct, n.MaxExposurePct).Round(2),
			Positions:      held,
		})
	}
	return report
}
