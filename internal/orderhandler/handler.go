// Package orderhandler builds and dispatches the three order shapes the
// Engine ever issues: a stop-limit entry, a market liquidation, and a
// cancel, per spec.md §4.5.
package orderhandler

import (
	"context"
	"math"

	"github.com/shopspring/decimal"

	"github.com/quantdesk/tradeengine/internal/broker"
	"github.com/quantdesk/tradeengine/internal/domain"
)

// entryLimitFactor and entryStopFactor set the stop-limit band around the
// signal's target price: limit 7% above target, stop 1% above target, per
// spec.md §4.5. Chosen to give the fill room to walk through the spread
// without letting a runaway print slip past the stop.
const (
	entryLimitFactor = 1.07
	entryStopFactor  = 1.01
)

// Placer is the broker surface this package drives, implemented by
// *broker.HTTPClient.
type Placer interface {
	PostOrder(ctx context.Context, req broker.NewOrderRequest, strategy string, action domain.Action, direction domain.Direction) (domain.MktOrder, error)
	ClosePosition(ctx context.Context, symbol string) (domain.MktOrder, error)
	CancelOrder(ctx context.Context, localID string) error
}

// Handler builds and dispatches orders through a Placer.
type Handler struct {
	broker Placer
}

// New returns a Handler driving broker for order placement.
func New(broker Placer) *Handler {
	return &Handler{broker: broker}
}

// CreatePosition builds a stop-limit entry order for size shares of symbol
// around targetPrice and places it, tagged with strategy and direction.
func (h *Handler) CreatePosition(ctx context.Context, symbol, strategy string, targetPrice decimal.Decimal, size int64, side domain.Side, direction domain.Direction) (domain.MktOrder, error) {
	limitPrice := targetPrice.Mul(decimal.NewFromFloat(entryLimitFactor))
	stopPrice := targetPrice.Mul(decimal.NewFromFloat(entryStopFactor))

	req := broker.NewOrderRequest{
		Symbol:     symbol,
		Side:       side,
		Type:       domain.OrderTypeStopLimit,
		Quantity:   decimal.NewFromInt(size),
		LimitPrice: limitPrice,
		StopPrice:  stopPrice,
	}
	return h.broker.PostOrder(ctx, req, strategy, domain.ActionCreate, direction)
}

// LiquidatePosition issues a market close for the full position in symbol.
func (h *Handler) LiquidatePosition(ctx context.Context, symbol string) (domain.MktOrder, error) {
	return h.broker.ClosePosition(ctx, symbol)
}

// CancelOrder cancels an open order by broker id.
func (h *Handler) CancelOrder(ctx context.Context, localID string) error {
	return h.broker.CancelOrder(ctx, localID)
}

// SharesFromRisk rounds a raw share count down to whole shares, per
// spec.md §4.5's "quantity rounded to whole shares". Never rounds up: doing
// so could push a position past its risk-sized quantity.
func SharesFromRisk(raw float64) int64 {
	return int64(math.Floor(raw))
}
