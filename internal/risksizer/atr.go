package risksizer

import (
	"context"
	"fmt"

	"github.com/quantdesk/tradeengine/internal/domain"
)

// atrPeriod is the standard 14-period smoothing window for Average True
// Range, per spec.md's glossary entry for ATR(14).
//
// atrLookbackDays is the daily-bar lookback window spec.md §4.8/§4.9 both
// fetch ATR over.
const (
	atrPeriod       = 14
	atrLookbackDays = 60
)

// BarSource fetches historical daily bars, implemented by
// *broker.HTTPClient (and marketdata.BarSource, the same narrow shape).
type BarSource interface {
	GetDailyBars(ctx context.Context, symbol string, days int) ([]domain.Bar, error)
}

// ATR computes the 14-period Average True Range for symbol from its most
// recent lookbackDays of daily bars. It implements locker.ATRSource so the
// same calculation backs both the Risk Sizer and the ATR trailing stop.
type ATR struct {
	bars BarSource
}

// NewATR returns an ATR helper fetching bars through bars.
func NewATR(bars BarSource) *ATR {
	return &ATR{bars: bars}
}

// ATR fetches lookbackDays of daily bars for symbol and returns the
// 14-period Average True Range over them.
func (a *ATR) ATR(ctx context.Context, symbol string, lookbackDays int) (float64, error) {
	bars, err := a.bars.GetDailyBars(ctx, symbol, lookbackDays)
	if err != nil {
		return 0, fmt.Errorf("risksizer: fetch bars for %s: %w", symbol, err)
	}
	return computeATR(bars)
}

// computeATR returns the simple (unweighted) mean of the last 14 true ranges
// over bars, ordered oldest-first. It needs at least 15 bars (14
// true-range samples, each of which needs a prior close) to produce a
// value; spec.md's 60-day lookback window comfortably covers this.
func computeATR(bars []domain.Bar) (float64, error) {
	if len(bars) < atrPeriod+1 {
		return 0, fmt.Errorf("risksizer: need at least %d bars for ATR(%d), got %d", atrPeriod+1, atrPeriod, len(bars))
	}

	trueRanges := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		high, _ := bars[i].High.Float64()
		low, _ := bars[i].Low.Float64()
		prevClose, _ := bars[i-1].Close.Float64()

		highLow := high - low
		highPrevClose := absf(high - prevClose)
		lowPrevClose := absf(low - prevClose)

		tr := highLow
		if highPrevClose > tr {
			tr = highPrevClose
		}
		if lowPrevClose > tr {
			tr = lowPrevClose
		}
		trueRanges = append(trueRanges, tr)
	}

	// Use the most recent atrPeriod true-range samples.
	window := trueRanges[len(trueRanges)-atrPeriod:]
	var sum float64
	for _, tr := range window {
		sum += tr
	}
	return sum / float64(atrPeriod), nil
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
