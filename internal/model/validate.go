package model

import (
	"errors"
	"fmt"
)

// ErrInvalidRecord is returned when a persisted record fails schema validation.
var ErrInvalidRecord = errors.New("model: invalid record")

// Validate checks the invariants a stored trade must satisfy.
func (t Trade) Validate() error {
	switch {
	case t.ID == "":
		return fmt.Errorf("%w: trade without id", ErrInvalidRecord)
	case t.Side != SideBuy && t.Side != SideSell:
		return fmt.Errorf("%w: trade %s has side %q", ErrInvalidRecord, t.ID, t.Side)
	case t.Status != StatusOpen && t.Status != StatusClosed:
		return fmt.Errorf("%w: trade %s has status %q", ErrInvalidRecord, t.ID, t.Status)
	case t.Shares < 0:
		return fmt.Errorf("%w: trade %s has negative shares", ErrInvalidRecord, t.ID)
	case !t.EntryPriceCents.IsPositive() || !t.EntryPriceCents.LessThan(Hundred):
		return fmt.Errorf("%w: trade %s entry price %s out of range", ErrInvalidRecord, t.ID, t.EntryPriceCents)
	case t.Status == StatusOpen && t.PnL != nil:
		return fmt.Errorf("%w: open trade %s carries pnl", ErrInvalidRecord, t.ID)
	case t.Status == StatusClosed && t.PnL == nil:
		return fmt.Errorf("%w: closed trade %s has no pnl", ErrInvalidRecord, t.ID)
	}
	return nil
}

// Validate checks the invariants a stored position must satisfy.
func (p Position) Validate() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: position without id", ErrInvalidRecord)
	case p.Status != StatusOpen && p.Status != StatusClosed && p.Status != StatusTest:
		return fmt.Errorf("%w: position %s has status %q", ErrInvalidRecord, p.ID, p.Status)
	case p.Shares < 0:
		return fmt.Errorf("%w: position %s has negative shares", ErrInvalidRecord, p.ID)
	case p.EntryPriceCents.IsNegative() || p.EntryPriceCents.GreaterThan(Hundred):
		return fmt.Errorf("%w: position %s entry price %s out of range", ErrInvalidRecord, p.ID, p.EntryPriceCents)
	}
	return nil
}

// Validate checks the invariants a stored news event must satisfy.
func (n NewsEvent) Validate() error {
	switch {
	case n.ID == "":
		return fmt.Errorf("%w: news event without id", ErrInvalidRecord)
	case n.Headline == "":
		return fmt.Errorf("%w: news event %s without headline", ErrInvalidRecord, n.ID)
	case n.Timestamp.IsZero():
		return fmt.Errorf("%w: news event %s without timestamp", ErrInvalidRecord, n.ID)
	}
	return nil
}
