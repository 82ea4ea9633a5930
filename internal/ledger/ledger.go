// Package ledger implements the Transaction Ledger: the record of round-trip
// trades, each bound to exactly one Locker, with at most one Active
// Transaction per symbol (spec.md §4.7, invariant 1).
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/quantdesk/tradeengine/internal/domain"
)

// Ledger wraps domain.TransactionStore, enforcing the at-most-one-Active-
// per-symbol invariant in-process before every write so a violation is
// caught before it ever reaches the database.
type Ledger struct {
	mu     sync.Mutex
	store  domain.TransactionStore
	active map[string]domain.Transaction // symbol -> Active transaction
}

// New returns a Ledger backed by store.
func New(store domain.TransactionStore) *Ledger {
	return &Ledger{store: store, active: make(map[string]domain.Transaction)}
}

// Bootstrap loads every Active row from the store, per spec.md §4.7's
// "on bootstrap, all Active rows are loaded and their Lockers re-hydrated."
// Locker re-hydration itself is the caller's responsibility (internal/locker
// loads its own rows from the lockers table by status); Bootstrap only
// populates this ledger's in-memory index.
func (l *Ledger) Bootstrap(ctx context.Context) ([]domain.Transaction, error) {
	rows, err := l.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	for _, t := range rows {
		l.active[t.Symbol] = t
	}
	l.mu.Unlock()
	return rows, nil
}

// AddTransaction creates an Active row bound to lockerID, with entry_time and
// entry_price taken from the order's fill.
func (l *Ledger) AddTransaction(ctx context.Context, lockerID string, order domain.MktOrder) (domain.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.active[order.Symbol]; exists {
		return domain.Transaction{}, fmt.Errorf("ledger: %w: %s", domain.ErrTransactionActive, order.Symbol)
	}

	filledAt := order.UpdatedAt
	if order.FilledAt != nil {
		filledAt = *order.FilledAt
	}

	txn := domain.Transaction{
		LocalID:    order.LocalID,
		Strategy:   order.Strategy,
		Symbol:     order.Symbol,
		LockerID:   lockerID,
		EntryTime:  filledAt,
		EntryPrice: order.AvgFillPrice,
		Quantity:   order.FilledQuantity,
		Direction:  order.Direction,
		Status:     domain.TransactionActive,
	}

	if err := l.store.Insert(ctx, txn); err != nil {
		return domain.Transaction{}, err
	}
	l.active[order.Symbol] = txn
	return txn, nil
}

// CloseTransaction closes the Active transaction for exitOrder.Symbol,
// setting exit fields from exitOrder's fill and position's accounting.
func (l *Ledger) CloseTransaction(ctx context.Context, exitOrder domain.MktOrder, position domain.MktPosition) (domain.Transaction, error) {
	return l.terminate(ctx, exitOrder, position, domain.TransactionClosed)
}

// CancelTransaction terminates the Active transaction for exitOrder.Symbol
// as cancelled (the entry order never filled or was reversed before a real
// exit could occur).
func (l *Ledger) CancelTransaction(ctx context.Context, exitOrder domain.MktOrder, position domain.MktPosition) (domain.Transaction, error) {
	return l.terminate(ctx, exitOrder, position, domain.TransactionCancelled)
}

func (l *Ledger) terminate(ctx context.Context, exitOrder domain.MktOrder, position domain.MktPosition, status domain.TransactionStatus) (domain.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	txn, ok := l.active[exitOrder.Symbol]
	if !ok {
		return domain.Transaction{}, fmt.Errorf("ledger: no active transaction for %s", exitOrder.Symbol)
	}

	exitTime := exitOrder.UpdatedAt
	if exitOrder.FilledAt != nil {
		exitTime = *exitOrder.FilledAt
	}
	exitPrice := exitOrder.AvgFillPrice

	txn.ExitTime = &exitTime
	txn.ExitPrice = &exitPrice
	txn.CostBasis = position.CostBasis
	txn.PnL = position.UnrealizedPnL
	if !position.CostBasis.IsZero() {
		txn.ROI = position.UnrealizedPnL.Div(position.CostBasis)
	}
	txn.Status = status

	if err := l.store.Update(ctx, txn); err != nil {
		return domain.Transaction{}, err
	}
	delete(l.active, exitOrder.Symbol)
	return txn, nil
}

// GetActive returns the Active transaction for symbol, if any.
func (l *Ledger) GetActive(symbol string) (domain.Transaction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.active[symbol]
	return t, ok
}

// ActiveBySymbol returns a snapshot of every currently Active transaction,
// keyed by symbol, for the Position Registry's strategy/direction tagging.
func (l *Ledger) ActiveBySymbol() map[string]domain.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]domain.Transaction, len(l.active))
	for k, v := range l.active {
		out[k] = v
	}
	return out
}
