package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/quantdesk/tradeengine/internal/domain"
)

const orderTable = "orders"

var orderColumns = []string{
	"local_id", "action", "strategy", "symbol", "direction", "side", "type",
	"state", "limit_price", "stop_price", "quantity", "filled_quantity",
	"avg_fill_price", "filled_at", "created_at", "updated_at",
}

// OrderStore implements domain.OrderStore over the Persistence Gateway.
type OrderStore struct {
	gw *Gateway
}

// NewOrderStore returns an OrderStore backed by gw.
func NewOrderStore(gw *Gateway) *OrderStore {
	return &OrderStore{gw: gw}
}

func orderValues(o domain.MktOrder) []any {
	return []any{
		o.LocalID, o.Action, o.Strategy, o.Symbol, o.Direction, o.Side, o.Type,
		o.State, o.LimitPrice, o.StopPrice, o.Quantity, o.FilledQuantity,
		o.AvgFillPrice, o.FilledAt, o.CreatedAt, o.UpdatedAt,
	}
}

// Insert stores a new order row.
func (s *OrderStore) Insert(ctx context.Context, o domain.MktOrder) error {
	return s.gw.Insert(ctx, orderTable, orderColumns, orderValues(o))
}

// Update rewrites an order row by local_id. Per the Gateway's UPDATE
// convention the primary-key column must be last in both the column list
// and the value slice, so local_id is appended again at the tail.
func (s *OrderStore) Update(ctx context.Context, o domain.MktOrder) error {
	cols := append(append([]string{}, orderColumns[1:]...), "local_id")
	vals := append(append([]any{}, orderValues(o)[1:]...), o.LocalID)
	return s.gw.Update(ctx, orderTable, cols, vals)
}

// GetByID fetches a single order by local_id.
func (s *OrderStore) GetByID(ctx context.Context, localID string) (domain.MktOrder, error) {
	rows, err := s.gw.Fetch(ctx, orderTable, []string{"local_id"}, []any{localID})
	if err != nil {
		return domain.MktOrder{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.MktOrder{}, err
		}
		return domain.MktOrder{}, domain.ErrNotFound
	}
	return scanOrder(rows)
}

// ListOpen returns all orders not in a terminal state.
func (s *OrderStore) ListOpen(ctx context.Context) ([]domain.MktOrder, error) {
	rows, err := s.gw.Fetch(ctx, orderTable, nil, nil)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MktOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		switch o.State {
		case domain.OrderStateFilled, domain.OrderStateCanceled,
			domain.OrderStateRejected, domain.OrderStateExpired:
			continue
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(rows pgx.Rows) (domain.MktOrder, error) {
	var o domain.MktOrder
	err := rows.Scan(
		&o.LocalID, &o.Action, &o.Strategy, &o.Symbol, &o.Direction, &o.Side, &o.Type,
		&o.State, &o.LimitPrice, &o.StopPrice, &o.Quantity, &o.FilledQuantity,
		&o.AvgFillPrice, &o.FilledAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.MktOrder{}, fmt.Errorf("postgres: scan order: %w", err)
	}
	return o, nil
}
