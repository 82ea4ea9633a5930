package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType mirrors the broker's order-type vocabulary. The engine only ever
// places StopLimit (entries) and Market (liquidations) orders, but the full
// set is kept so MktOrder can represent any order the broker reports.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStopLimit OrderType = "stop_limit"
	OrderTypeStop      OrderType = "stop"
)

// OrderState is the broker-reported lifecycle state of an order.
type OrderState string

const (
	OrderStateNew       OrderState = "new"
	OrderStatePartial   OrderState = "partially_filled"
	OrderStateFilled    OrderState = "filled"
	OrderStateCanceled  OrderState = "canceled"
	OrderStateRejected  OrderState = "rejected"
	OrderStateExpired   OrderState = "expired"
)

// MktOrder is the engine's mutable view of an open or recently terminal
// broker order. LocalID equals the broker's order id.
type MktOrder struct {
	LocalID         string
	Action          Action
	Strategy        string
	Symbol          string
	Direction       Direction
	Side            Side
	Type            OrderType
	State           OrderState
	LimitPrice      decimal.Decimal
	StopPrice       decimal.Decimal
	Quantity        decimal.Decimal
	FilledQuantity  decimal.Decimal
	AvgFillPrice    decimal.Decimal
	FilledAt        *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MarketValue returns filled quantity times average fill price.
func (o MktOrder) MarketValue() decimal.Decimal {
	return o.FilledQuantity.Mul(o.AvgFillPrice)
}

// OrderUpdate is a single event off the broker's order-update stream.
type OrderUpdate struct {
	Order            MktOrder
	Event            OrderState
	LimitPrice       decimal.Decimal
	AverageFillPrice decimal.Decimal
	FilledAt         time.Time
}
