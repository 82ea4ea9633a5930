package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a ledger entry.
type TransactionStatus string

const (
	TransactionActive    TransactionStatus = "active"
	TransactionCancelled TransactionStatus = "cancelled"
	TransactionClosed    TransactionStatus = "closed"
)

// Transaction is one round-trip trade: an entry order, an exit order, and
// the resulting PnL. At most one Active Transaction may exist per symbol at
// any time; every Active Transaction has a corresponding Active or Disabled
// Locker row sharing its LockerID.
type Transaction struct {
	LocalID    string
	Strategy   string
	Symbol     string
	LockerID   string
	EntryTime  time.Time
	ExitTime   *time.Time
	EntryPrice decimal.Decimal
	ExitPrice  *decimal.Decimal
	Quantity   decimal.Decimal
	PnL        decimal.Decimal
	ROI        decimal.Decimal
	CostBasis  decimal.Decimal
	Direction  Direction
	Status     TransactionStatus
}
