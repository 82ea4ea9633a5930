// Package locker implements the Stop Engine: per-symbol trailing stops that
// track a live order or filled position and decide when to close it, per
// spec.md §4.8.
package locker

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/quantdesk/tradeengine/internal/domain"
)

// Stop is implemented by *PercentStop and *ATRStop, the two trailing-stop
// algorithms a Locker can run. Go models the original's tagged-variant
// dispatch (Percent | Atr) as an interface with two concrete types rather
// than a sum type — dispatch through the interface is the idiomatic
// equivalent of the match the original uses.
type Stop interface {
	LocalID() string
	SetLocalID(id string)
	Symbol() string
	Strategy() string
	Direction() domain.Direction
	TransactType() domain.TransactType
	Status() domain.LockerStatus
	SetStatus(status domain.LockerStatus)

	// RefreshEntryPrice recomputes derived parameters (pivot bands for a
	// percent stop; nothing for an ATR stop) while keeping LocalID.
	RefreshEntryPrice(entryPrice decimal.Decimal)

	// PriceUpdate folds in a new trade price and returns the resulting
	// stop_price.
	PriceUpdate(ctx context.Context, last decimal.Decimal) (decimal.Decimal, error)

	// Row projects the stop into its storage shape for persistence.
	Row() domain.LockerRow

	String() string
}

// fromRow rehydrates the right concrete Stop from a persisted LockerRow,
// dispatching on StopType.
func fromRow(row domain.LockerRow) Stop {
	switch row.StopType {
	case domain.StopTypeATR:
		return atrStopFromRow(row)
	default:
		return percentStopFromRow(row)
	}
}
