// Package domain holds the core types shared across the trade-lifecycle
// engine: market signals, broker orders and positions, the transaction
// ledger, and the trailing-stop locker state machine.
package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the buy/sell leg of an order or signal.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Action distinguishes opening a new position from liquidating one.
type Action string

const (
	ActionCreate    Action = "create"
	ActionLiquidate Action = "liquidate"
)

// Direction is the strategy's intended market direction for a symbol.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// SignalSource identifies which ingress path delivered a MarketSignal.
type SignalSource string

const (
	SourcePubSub  SignalSource = "pubsub"
	SourceWebHook SignalSource = "webhook"
)

// MarketSignal is an immutable instruction from the outside world asking the
// Engine to open or liquidate a position. It is consumed exactly once.
type MarketSignal struct {
	Strategy        string
	Symbol          string
	Side            Side
	Action          Action
	Direction       Direction
	Source          SignalSource
	Price           decimal.Decimal
	PrimaryExchange string
	IsDirty         bool
	Amount          decimal.Decimal
}

// Validate checks the structural well-formedness of a signal as it crosses
// an ingress boundary (webhook or pubsub). It does not check business rules
// like strategy existence or asset tradability; those are the Engine's job
// and fail softly (§7 kind c), not with a 400.
func (s MarketSignal) Validate() error {
	if s.Strategy == "" {
		return fmt.Errorf("signal: strategy is required")
	}
	if s.Symbol == "" {
		return fmt.Errorf("signal: symbol is required")
	}
	switch s.Side {
	case SideBuy, SideSell:
	default:
		return fmt.Errorf("signal: side must be buy or sell, got %q", s.Side)
	}
	switch s.Action {
	case ActionCreate, ActionLiquidate:
	default:
		return fmt.Errorf("signal: action must be create or liquidate, got %q", s.Action)
	}
	switch s.Direction {
	case DirectionLong, DirectionShort:
	default:
		return fmt.Errorf("signal: direction must be long or short, got %q", s.Direction)
	}
	return nil
}
