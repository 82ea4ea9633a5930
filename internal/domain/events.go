package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is a single real-time trade print off the market-data stream.
type Trade struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Price  decimal.Decimal
	Time   time.Time
}

// Mid returns bid + (ask-bid)/2, the mid price used by the Market Data Cache.
func (t Trade) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask.Sub(t.Bid).Div(decimal.NewFromInt(2)))
}

// EventKind discriminates the two event types fanned out by the broker's
// stream publisher.
type EventKind string

const (
	EventTrade       EventKind = "trade"
	EventOrderUpdate EventKind = "order_update"
)

// Event is the tagged union delivered to stream subscribers. Exactly one of
// Trade / OrderUpdate is populated, selected by Kind.
type Event struct {
	Kind        EventKind
	Trade       Trade
	OrderUpdate OrderUpdate
}

// Bar is a single daily OHLCV bar, used by ATR computation.
type Bar struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}
