package domain

import "github.com/shopspring/decimal"

// MktPosition is the engine's mutable view of an open broker position. The
// strategy/direction attribution is not reported by the broker; it is
// recovered from the matching Active Transaction for the symbol.
type MktPosition struct {
	Symbol         string
	Strategy       string
	Direction      Direction
	AvgEntryPrice  decimal.Decimal
	Quantity       decimal.Decimal
	CostBasis      decimal.Decimal
	UnrealizedPnL  decimal.Decimal
}
