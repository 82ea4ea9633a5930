// Package risksizer computes an ATR-based position size from account
// equity and a per-strategy multiplier, per spec.md §4.9.
package risksizer

import (
	"context"
	"fmt"
)

// ATRSource computes ATR(14) for a symbol, implemented by *ATR.
type ATRSource interface {
	ATR(ctx context.Context, symbol string, lookbackDays int) (float64, error)
}

// riskFraction is the fraction of account equity risked per trade.
const riskFraction = 0.02

// Sizer turns account equity into a whole-share order size.
type Sizer struct {
	atr ATRSource
}

// New returns a Sizer computing ATR through atr.
func New(atr ATRSource) *Sizer {
	return &Sizer{atr: atr}
}

// Size returns the raw (unrounded) share count for symbol: atr = ATR(14,
// last 60 daily bars); risk_per_trade = equity * 0.02; shares =
// risk_per_trade / (atr * multiplier).
//
// strategyCount is carried for a future per-strategy risk budget split but
// does not currently divide the result — see SPEC_FULL.md's resolution of
// spec.md's open question on this parameter.
func (s *Sizer) Size(ctx context.Context, symbol string, equity, multiplier float64, strategyCount int) (float64, error) {
	atr, err := s.atr.ATR(ctx, symbol, atrLookbackDays)
	if err != nil {
		return 0, fmt.Errorf("risksizer: %w", err)
	}
	if atr <= 0 {
		return 0, fmt.Errorf("risksizer: non-positive atr for %s", symbol)
	}
	if multiplier <= 0 {
		return 0, fmt.Errorf("risksizer: multiplier must be > 0, got %v", multiplier)
	}

	riskPerTrade := equity * riskFraction
	return riskPerTrade / (atr * multiplier), nil
}
