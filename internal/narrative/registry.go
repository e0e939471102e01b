// Package narrative classifies markets into thematic buckets ("narratives")
// whose combined exposure is capped.
//
// Classification precedence:
//   - an explicit override for the market slug always wins
//   - otherwise the first narrative, in catalogue order, with a keyword that
//     occurs case-insensitively in the market name or slug
//   - otherwise the market is unclassified and exempt from narrative limits
package narrative

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/atmx/paper-engine/internal/model"
	"github.com/atmx/paper-engine/internal/store"
)

var (
	// ErrUnknownNarrative is returned when an override targets a narrative
	// that is not in the catalogue.
	ErrUnknownNarrative = errors.New("narrative: unknown narrative")

	// ErrEmptySlug is returned when an override has no market slug.
	ErrEmptySlug = errors.New("narrative: market slug is required")
)

// Registry holds the immutable narrative catalogue and the persisted
// override table. Reads are safe for concurrent use; override writes are
// serialized and copy-on-write, so a snapshot never changes underneath a
// reader.
type Registry struct {
	narratives []model.NarrativeConfig
	keywords   [][]string // lower-cased, parallel to narratives
	index      map[string]int
	repo       store.OverrideStore

	writeMu   sync.Mutex
	mu        sync.RWMutex
	overrides map[string]string
}

// NewRegistry validates the catalogue and loads the override table from
// repo. Stored overrides naming a narrative that no longer exists are
// ignored.
func NewRegistry(ctx context.Context, narratives []model.NarrativeConfig, repo store.OverrideStore) (*Registry, error) {
	if err := Validate(narratives); err != nil {
		return nil, err
	}

	r := &Registry{
		narratives: slices.Clone(narratives),
		keywords:   make([][]string, len(narratives)),
		index:      make(map[string]int, len(narratives)),
		repo:       repo,
	}
	for i, n := range r.narratives {
		r.index[n.Name] = i
		for _, kw := range n.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				r.keywords[i] = append(r.keywords[i], kw)
			}
		}
	}

	overrides, err := r.loadOverrides(ctx)
	if err != nil {
		return nil, err
	}
	r.overrides = overrides
	return r, nil
}

// Classify returns the narrative of a market, or ("", false) if the market
// belongs to none and is therefore exempt from narrative limits.
func (r *Registry) Classify(marketName, marketSlug string) (string, bool) {
	return r.Snapshot()(marketName, marketSlug)
}

// Snapshot returns a classifier bound to the current override table. Use it
// when classifying many markets for one decision, so that a concurrent
// override change cannot split the result.
func (r *Registry) Snapshot() func(marketName, marketSlug string) (string, bool) {
	r.mu.RLock()
	overrides := r.overrides
	r.mu.RUnlock()

	return func(marketName, marketSlug string) (string, bool) {
		if name, ok := overrides[marketSlug]; ok {
			return name, true
		}
		return r.matchKeywords(marketName, marketSlug)
	}
}

func (r *Registry) matchKeywords(marketName, marketSlug string) (string, bool) {
	text := strings.ToLower(marketName + " " + marketSlug)
	for i, kws := range r.keywords {
		for _, kw := range kws {
			if strings.Contains(text, kw) {
				return r.narratives[i].Name, true
			}
		}
	}
	return "", false
}

// Lookup returns the configuration of a narrative.
func (r *Registry) Lookup(name string) (model.NarrativeConfig, bool) {
	i, ok := r.index[name]
	if !ok {
		return model.NarrativeConfig{}, false
	}
	return r.narratives[i], true
}

// Narratives returns the catalogue in precedence order.
func (r *Registry) Narratives() []model.NarrativeConfig {
	return slices.Clone(r.narratives)
}

// Overrides returns a copy of the current override table.
func (r *Registry) Overrides() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.overrides)
}

// AddOverride pins a market slug to a narrative, replacing any previous
// override for that slug. The table is persisted before it takes effect; on
// a persistence error the registry is unchanged.
func (r *Registry) AddOverride(ctx context.Context, marketSlug, narrative string) error {
	if marketSlug == "" {
		return ErrEmptySlug
	}
	if _, ok := r.index[narrative]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNarrative, narrative)
	}

	return r.update(ctx, func(next map[string]string) bool {
		if next[marketSlug] == narrative {
			return false
		}
		next[marketSlug] = narrative
		return true
	})
}

// RemoveOverride deletes the override for a slug if present; classification
// of that market falls back to keyword matching.
func (r *Registry) RemoveOverride(ctx context.Context, marketSlug string) error {
	return r.update(ctx, func(next map[string]string) bool {
		if _, ok := next[marketSlug]; !ok {
			return false
		}
		delete(next, marketSlug)
		return true
	})
}

// update runs one serialized load-modify-save cycle against the stored
// table, so writes made through another registry over the same store are
// kept. mutate reports whether it changed anything; an unchanged table is
// not written back.
func (r *Registry) update(ctx context.Context, mutate func(map[string]string) bool) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	next, err := r.loadOverrides(ctx)
	if err != nil {
		return err
	}
	if mutate(next) {
		if err := r.repo.SaveOverrides(ctx, next); err != nil {
			return fmt.Errorf("save overrides: %w", err)
		}
	}

	r.mu.Lock()
	r.overrides = next
	r.mu.Unlock()
	return nil
}

// loadOverrides reads the stored table, dropping entries that name a
// narrative missing from the catalogue.
func (r *Registry) loadOverrides(ctx context.Context) (map[string]string, error) {
	stored, err := r.repo.LoadOverrides(ctx)
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	overrides := make(map[string]string, len(stored))
	for slug, name := range stored {
		if _, ok := r.index[name]; !ok {
			slog.Warn("ignoring override for unknown narrative", "slug", slug, "narrative", name)
			continue
		}
		overrides[slug] = name
	}
	return overrides, nil
}
