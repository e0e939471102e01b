package signal

import (
	"time"

	"github.com/atmx/paper-engine/internal/metrics"
	"github.com/atmx/paper-engine/internal/model"
)

// Subscriber tiers.
const (
	TierFree    = "free"
	TierPremium = "premium"
)

// FreeDelay is how long free-tier subscribers wait before seeing a signal.
const FreeDelay = 15 * time.Minute

// Feed page sizes.
const (
	FreeLimit    = 10
	DefaultLimit = 50
	MaxLimit     = 200
)

// ApplyTierDelay hides signals younger than FreeDelay from the free tier.
// Other tiers see everything.
func ApplyTierDelay(signals []model.Signal, tier string, now time.Time) []model.Signal {
	if tier != TierFree {
		return signals
	}
	cutoff := now.Add(-FreeDelay)
	out := make([]model.Signal, 0, len(signals))
	for _, s := range signals {
		if !s.Timestamp.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// Meta describes a feed page.
type Meta struct {
	Tier      string    `json:"tier"`
	Count     int       `json:"count"`
	Delayed   bool      `json:"delayed"`
	Timestamp time.Time `json:"timestamp"`
}

// Page is the feed response envelope.
type Page struct {
	Signals []model.Signal `json:"signals"`
	Meta    Meta           `json:"meta"`
}

// Feed applies the tier delay and page limit to projected signals. An empty
// tier is treated as free. The free tier never gets more than FreeLimit
// signals; other tiers default to DefaultLimit and are capped at MaxLimit.
func Feed(signals []model.Signal, tier string, limit int, now time.Time) Page {
	if tier == "" {
		tier = TierFree
	}
	visible := ApplyTierDelay(signals, tier, now)
	n := pageSize(tier, limit)
	if len(visible) > n {
		visible = visible[:n]
	}
	if visible == nil {
		visible = []model.Signal{}
	}

	metrics.SignalsServed.WithLabelValues(tier).Add(float64(len(visible)))
	return Page{
		Signals: visible,
		Meta: Meta{
			Tier:      tier,
			Count:     len(visible),
			Delayed:   tier == TierFree,
			Timestamp: now,
		},
	}
}

func pageSize(tier string, limit int) int {
	if tier == TierFree {
		if limit <= 0 || limit > FreeLimit {
			return FreeLimit
		}
		return limit
	}
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
