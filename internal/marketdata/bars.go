package marketdata

import (
	"context"

	"github.com/quantdesk/tradeengine/internal/domain"
)

// BarSource fetches historical daily bars, implemented by
// *broker.HTTPClient. Defined here so marketdata depends only on this
// narrow interface rather than the whole broker package; the Risk Sizer
// declares its own interface of the same shape (risksizer.BarSource).
type BarSource interface {
	GetDailyBars(ctx context.Context, symbol string, days int) ([]domain.Bar, error)
}

// HistoricalBars fetches days of daily OHLCV bars for symbol through src.
func HistoricalBars(ctx context.Context, src BarSource, symbol string, days int) ([]domain.Bar, error) {
	return src.GetDailyBars(ctx, symbol, days)
}
