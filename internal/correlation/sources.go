package correlation

import (
	"context"
	"fmt"

	"github.com/atmx/paper-engine/internal/model"
	"github.com/atmx/paper-engine/internal/store"
)

// Sources merges the open positions of several sources, in order.
type Sources []PositionSource

// OpenPositions concatenates every source's positions. The first failing
// source aborts the merge.
func (s Sources) OpenPositions(ctx context.Context) ([]model.Position, error) {
	out := []model.Position{}
	for _, src := range s {
		positions, err := src.OpenPositions(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, positions...)
	}
	return out, nil
}

// StoredPositions exposes the externally supplied positions document as a
// PositionSource. Closed and test positions are filtered out.
type StoredPositions struct {
	Repo store.PositionStore
}

// OpenPositions returns the stored positions that count toward exposure.
func (s StoredPositions) OpenPositions(ctx context.Context) ([]model.Position, error) {
	all, err := s.Repo.LoadPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load external positions: %w", err)
	}
	out := make([]model.Position, 0, len(all))
	for _, p := range all {
		if p.Counts() {
			out = append(out, p)
		}
	}
	return out, nil
}
