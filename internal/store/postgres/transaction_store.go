package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/quantdesk/tradeengine/internal/domain"
)

const transactionTable = "transactions"

var transactionColumns = []string{
	"local_id", "strategy", "symbol", "locker_id", "entry_time", "exit_time",
	"entry_price", "exit_price", "quantity", "pnl", "roi", "cost_basis",
	"direction", "status",
}

// TransactionStore implements domain.TransactionStore over the Persistence
// Gateway.
type TransactionStore struct {
	gw *Gateway
}

// NewTransactionStore returns a TransactionStore backed by gw.
func NewTransactionStore(gw *Gateway) *TransactionStore {
	return &TransactionStore{gw: gw}
}

func transactionValues(t domain.Transaction) []any {
	return []any{
		t.LocalID, t.Strategy, t.Symbol, t.LockerID, t.EntryTime, t.ExitTime,
		t.EntryPrice, t.ExitPrice, t.Quantity, t.PnL, t.ROI, t.CostBasis,
		t.Direction, t.Status,
	}
}

// Insert stores a new transaction row.
func (s *TransactionStore) Insert(ctx context.Context, t domain.Transaction) error {
	return s.gw.Insert(ctx, transactionTable, transactionColumns, transactionValues(t))
}

// Update rewrites a transaction row by local_id.
func (s *TransactionStore) Update(ctx context.Context, t domain.Transaction) error {
	cols := append(append([]string{}, transactionColumns[1:]...), "local_id")
	vals := append(append([]any{}, transactionValues(t)[1:]...), t.LocalID)
	return s.gw.Update(ctx, transactionTable, cols, vals)
}

// GetBySymbol fetches the Active transaction for a symbol, per spec's
// at-most-one-Active-per-symbol invariant. Terminal (closed/cancelled)
// transactions are not returned by this method or by ListActive.
func (s *TransactionStore) GetBySymbol(ctx context.Context, symbol string) (domain.Transaction, error) {
	rows, err := s.gw.Fetch(ctx, transactionTable,
		[]string{"symbol", "status"}, []any{symbol, domain.TransactionActive})
	if err != nil {
		return domain.Transaction{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.Transaction{}, err
		}
		return domain.Transaction{}, domain.ErrNotFound
	}
	return scanTransaction(rows)
}

// ListActive returns every Active transaction, used at Engine startup to
// hydrate the Ledger.
func (s *TransactionStore) ListActive(ctx context.Context) ([]domain.Transaction, error) {
	rows, err := s.gw.Fetch(ctx, transactionTable,
		[]string{"status"}, []any{domain.TransactionActive})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(rows pgx.Rows) (domain.Transaction, error) {
	var t domain.Transaction
	err := rows.Scan(
		&t.LocalID, &t.Strategy, &t.Symbol, &t.LockerID, &t.EntryTime, &t.ExitTime,
		&t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.PnL, &t.ROI, &t.CostBasis,
		&t.Direction, &t.Status,
	)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("postgres: scan transaction: %w", err)
	}
	return t, nil
}
