package locker

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quantdesk/tradeengine/internal/domain"
)

// pivotRow is one row of the percent trailing stop's pivot table, per
// spec.md §4.8: (zone, pct, trail_factor).
type pivotRow struct {
	zone        int
	pct         float64
	trailFactor float64
}

// calculatePivots derives the 4-row pivot table from a per-strategy percent
// multiplier, per spec.md §4.8.
func calculatePivots(multiplier float64) [4]pivotRow {
	return [4]pivotRow{
		{zone: 1, pct: multiplier / 100, trailFactor: 1.0},
		{zone: 2, pct: 2 * multiplier / 100, trailFactor: 0.0},
		{zone: 3, pct: 3 * multiplier / 100, trailFactor: 2.0},
		{zone: 4, pct: 4 * multiplier / 100, trailFactor: 2.0 - 1/multiplier},
	}
}

// PercentStop is the zone-based percent trailing stop. Prices are held as
// float64 internally; the trail arithmetic is intentionally floating point
// and re-quantised to 3 dp at the LockerRow boundary, per spec.md §9.
type PercentStop struct {
	localID      string
	strategy     string
	symbol       string
	direction    domain.Direction
	transactType domain.TransactType
	status       domain.LockerStatus
	multiplier   float64
	pivots       [4]pivotRow

	entryPrice float64
	stopPrice  float64
	watermark  float64
	zone       int
}

// NewPercentStop builds a PercentStop with its initial stop_price set per
// spec.md §4.8: entry*(1-pivot1.pct) for Long, entry*(1+pivot1.pct) for
// Short.
func NewPercentStop(strategy, symbol string, entryPrice decimal.Decimal, multiplier float64, transactType domain.TransactType, direction domain.Direction) *PercentStop {
	entry, _ := entryPrice.Round(3).Float64()
	pivots := calculatePivots(multiplier)

	var stopPrice float64
	switch direction {
	case domain.DirectionShort:
		stopPrice = entry * (1 + pivots[0].pct)
	default:
		stopPrice = entry * (1 - pivots[0].pct)
	}

	return &PercentStop{
		strategy:     strategy,
		symbol:       symbol,
		direction:    direction,
		transactType: transactType,
		status:       domain.LockerActive,
		multiplier:   multiplier,
		pivots:       pivots,
		entryPrice:   entry,
		stopPrice:    stopPrice,
		watermark:    entry,
	}
}

func percentStopFromRow(row domain.LockerRow) *PercentStop {
	return &PercentStop{
		localID:      row.LocalID,
		strategy:     row.Strategy,
		symbol:       row.Symbol,
		direction:    row.Direction,
		transactType: row.TransactType,
		status:       row.Status,
		multiplier:   row.Multiplier,
		pivots:       calculatePivots(row.Multiplier),
		entryPrice:   row.EntryPrice,
		stopPrice:    row.StopPrice,
		watermark:    row.Watermark,
		zone:         row.Zone,
	}
}

func (s *PercentStop) LocalID() string                 { return s.localID }
func (s *PercentStop) SetLocalID(id string)             { s.localID = id }
func (s *PercentStop) Symbol() string                   { return s.symbol }
func (s *PercentStop) Strategy() string                 { return s.strategy }
func (s *PercentStop) Direction() domain.Direction       { return s.direction }
func (s *PercentStop) TransactType() domain.TransactType { return s.transactType }
func (s *PercentStop) Status() domain.LockerStatus       { return s.status }
func (s *PercentStop) SetStatus(status domain.LockerStatus) { s.status = status }

// RefreshEntryPrice recomputes the pivot table against a new entry price,
// keeping LocalID — used when update_stop is called against an already
// persisted Locker.
func (s *PercentStop) RefreshEntryPrice(entryPrice decimal.Decimal) {
	entry, _ := entryPrice.Round(3).Float64()
	s.entryPrice = entry
	s.pivots = calculatePivots(s.multiplier)
}

// PriceUpdate implements spec.md §4.8's price_update algorithm. Long walks
// the pivot table in zone order, applying the first zone the price hasn't
// yet exceeded (the "walk until first non-skip" reading of the original's
// loop, per spec.md §9's Open Question). Short is a true mirror: watermark
// tracks the running low, and the pivot thresholds and trail direction are
// reflected through entry price rather than reusing Long's comparisons
// outright, since a literal bug-for-bug port of the original Rust (which
// shares the Long watermark/threshold sign for both directions) fails to
// reproduce even its own Short worked example.
func (s *PercentStop) PriceUpdate(ctx context.Context, last decimal.Decimal) (decimal.Decimal, error) {
	lastF, _ := last.Float64()

	if s.status == domain.LockerDisabled {
		return decimal.NewFromFloat(s.stopPrice).Round(3), nil
	}

	switch s.direction {
	case domain.DirectionShort:
		return s.priceUpdateShort(lastF), nil
	default:
		return s.priceUpdateLong(lastF), nil
	}
}

func (s *PercentStop) priceUpdateLong(last float64) decimal.Decimal {
	priceChange := last - s.watermark
	if priceChange <= 0 {
		return decimal.NewFromFloat(s.stopPrice).Round(3)
	}

	newZone := s.zone
	for _, row := range s.pivots {
		if row.zone == 4 {
			if last > s.entryPrice*(1+row.pct) {
				s.stopPrice = last - s.entryPrice*0.01
			} else {
				s.stopPrice += row.trailFactor * priceChange
			}
			newZone = row.zone
			break
		}
		if last > s.entryPrice*(1+row.pct) {
			continue
		}
		s.stopPrice += row.trailFactor * priceChange
		newZone = row.zone
		break
	}

	if newZone > s.zone {
		s.zone = newZone
	}
	s.watermark = last
	return decimal.NewFromFloat(s.stopPrice).Round(3)
}

func (s *PercentStop) priceUpdateShort(last float64) decimal.Decimal {
	priceChange := s.watermark - last
	if priceChange <= 0 {
		return decimal.NewFromFloat(s.stopPrice).Round(3)
	}

	newZone := s.zone
	for _, row := range s.pivots {
		if row.zone == 4 {
			if last < s.entryPrice*(1-row.pct) {
				s.stopPrice = last + s.entryPrice*0.01
			} else {
				s.stopPrice -= row.trailFactor * priceChange
			}
			newZone = row.zone
			break
		}
		if last < s.entryPrice*(1-row.pct) {
			continue
		}
		s.stopPrice -= row.trailFactor * priceChange
		newZone = row.zone
		break
	}

	if newZone > s.zone {
		s.zone = newZone
	}
	s.watermark = last
	return decimal.NewFromFloat(s.stopPrice).Round(3)
}

// Row projects the stop into its persisted shape.
func (s *PercentStop) Row() domain.LockerRow {
	return domain.LockerRow{
		LocalID:      s.localID,
		Strategy:     s.strategy,
		Symbol:       s.symbol,
		StopType:     domain.StopTypePercent,
		Status:       s.status,
		TransactType: s.transactType,
		Direction:    s.direction,
		EntryPrice:   s.entryPrice,
		Watermark:    s.watermark,
		StopPrice:    s.stopPrice,
		Zone:         s.zone,
		Multiplier:   s.multiplier,
	}
}

func (s *PercentStop) String() string {
	return fmt.Sprintf("price[%.3f] stop[%.3f] zone[%d] status[%s] direction[%s]", s.watermark, s.stopPrice, s.zone, s.status, s.direction)
}
