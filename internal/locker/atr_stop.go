package locker

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quantdesk/tradeengine/internal/domain"
)

const atrLookbackDays = 60

// ATRStop is the volatility-based trailing stop: candidate = last ∓ atr×multiplier,
// with stop_price only ever tightening (max for Long, min for Short), per
// spec.md §4.8.
type ATRStop struct {
	localID      string
	strategy     string
	symbol       string
	direction    domain.Direction
	transactType domain.TransactType
	status       domain.LockerStatus
	multiplier   float64
	dailyATR     float64

	stopPrice float64
	watermark float64
	zone      int

	atr ATRSource
}

// ATRSource computes the 14-period Average True Range for a symbol over a
// lookback window, implemented by internal/risksizer's ATR helper wired
// against risksizer.BarSource.
type ATRSource interface {
	ATR(ctx context.Context, symbol string, lookbackDays int) (float64, error)
}

// NewATRStop builds an ATRStop whose stop_price and watermark start at the
// entry price. daily_atr is fetched lazily on the first PriceUpdate (per
// spec.md §4.8 — "on first price_update, if daily_atr is zero, compute it"),
// which then places stop_price at entry ∓ atr×multiplier before folding in
// the tick. atr
// is held across the stop's lifetime, including after rehydration from
// storage via SetATRSource.
func NewATRStop(strategy, symbol string, entryPrice decimal.Decimal, multiplier float64, transactType domain.TransactType, direction domain.Direction, atr ATRSource) *ATRStop {
	entry, _ := entryPrice.Round(3).Float64()
	return &ATRStop{
		strategy:     strategy,
		symbol:       symbol,
		direction:    direction,
		transactType: transactType,
		status:       domain.LockerActive,
		multiplier:   multiplier,
		stopPrice:    entry,
		watermark:    entry,
		atr:          atr,
	}
}

func atrStopFromRow(row domain.LockerRow) *ATRStop {
	return &ATRStop{
		localID:      row.LocalID,
		strategy:     row.Strategy,
		symbol:       row.Symbol,
		direction:    row.Direction,
		transactType: row.TransactType,
		status:       row.Status,
		multiplier:   row.Multiplier,
		dailyATR:     row.DailyATR,
		stopPrice:    row.StopPrice,
		watermark:    row.Watermark,
		zone:         row.Zone,
	}
}

// SetATRSource wires the ATR computation dependency into a stop rehydrated
// from storage, which carries no such reference across a restart.
func (s *ATRStop) SetATRSource(atr ATRSource) { s.atr = atr }

func (s *ATRStop) LocalID() string                    { return s.localID }
func (s *ATRStop) SetLocalID(id string)                { s.localID = id }
func (s *ATRStop) Symbol() string                      { return s.symbol }
func (s *ATRStop) Strategy() string                    { return s.strategy }
func (s *ATRStop) Direction() domain.Direction          { return s.direction }
func (s *ATRStop) TransactType() domain.TransactType    { return s.transactType }
func (s *ATRStop) Status() domain.LockerStatus          { return s.status }
func (s *ATRStop) SetStatus(status domain.LockerStatus) { s.status = status }

// RefreshEntryPrice is a no-op for ATRStop: the stop is driven entirely by
// trailing price action and ATR, not a fixed entry-price pivot table.
func (s *ATRStop) RefreshEntryPrice(entryPrice decimal.Decimal) {}

// PriceUpdate lazily computes daily_atr on first use, then folds in last
// per spec.md §4.8: stop_price only ever tightens (max for Long, min for
// Short), and watermark tracks the running extreme in the favourable
// direction.
func (s *ATRStop) PriceUpdate(ctx context.Context, last decimal.Decimal) (decimal.Decimal, error) {
	lastF, _ := last.Float64()

	if s.status == domain.LockerDisabled {
		return decimal.NewFromFloat(s.stopPrice).Round(3), nil
	}

	if s.dailyATR == 0 {
		atr, err := s.atr.ATR(ctx, s.symbol, atrLookbackDays)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("locker: compute atr for %s: %w", s.symbol, err)
		}
		s.dailyATR = atr
		// Until the first ATR is known, watermark still holds the entry
		// price; the initial stop sits one ATR band beyond it.
		if s.direction == domain.DirectionShort {
			s.stopPrice = s.watermark + atr*s.multiplier
		} else {
			s.stopPrice = s.watermark - atr*s.multiplier
		}
	}

	switch s.direction {
	case domain.DirectionShort:
		candidate := lastF + s.dailyATR*s.multiplier
		if s.stopPrice == 0 || candidate < s.stopPrice {
			s.stopPrice = candidate
		}
		if s.watermark == 0 || lastF < s.watermark {
			s.watermark = lastF
		}
	default:
		candidate := lastF - s.dailyATR*s.multiplier
		if candidate > s.stopPrice {
			s.stopPrice = candidate
		}
		if lastF > s.watermark {
			s.watermark = lastF
		}
	}

	return decimal.NewFromFloat(s.stopPrice).Round(3), nil
}

// Row projects the stop into its persisted shape.
func (s *ATRStop) Row() domain.LockerRow {
	return domain.LockerRow{
		LocalID:      s.localID,
		Strategy:     s.strategy,
		Symbol:       s.symbol,
		StopType:     domain.StopTypeATR,
		Status:       s.status,
		TransactType: s.transactType,
		Direction:    s.direction,
		Watermark:    s.watermark,
		StopPrice:    s.stopPrice,
		Zone:         s.zone,
		Multiplier:   s.multiplier,
		DailyATR:     s.dailyATR,
	}
}

func (s *ATRStop) String() string {
	return fmt.Sprintf("price[%.3f] stop[%.3f] zone[%d] status[%s] direction[%s]", s.watermark, s.stopPrice, s.zone, s.status, s.direction)
}
