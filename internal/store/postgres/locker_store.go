package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/quantdesk/tradeengine/internal/domain"
)

const lockerTable = "lockers"

var lockerColumns = []string{
	"local_id", "strategy", "symbol", "stop_type", "status", "transact_type",
	"direction", "entry_price", "watermark", "stop_price", "zone",
	"multiplier", "daily_atr",
}

// LockerStore implements domain.LockerStore over the Persistence Gateway.
type LockerStore struct {
	gw *Gateway
}

// NewLockerStore returns a LockerStore backed by gw.
func NewLockerStore(gw *Gateway) *LockerStore {
	return &LockerStore{gw: gw}
}

func lockerValues(r domain.LockerRow) []any {
	return []any{
		r.LocalID, r.Strategy, r.Symbol, r.StopType, r.Status, r.TransactType,
		r.Direction, r.EntryPrice, r.Watermark, r.StopPrice, r.Zone,
		r.Multiplier, r.DailyATR,
	}
}

// Insert stores a new locker row.
func (s *LockerStore) Insert(ctx context.Context, r domain.LockerRow) error {
	return s.gw.Insert(ctx, lockerTable, lockerColumns, lockerValues(r))
}

// Update rewrites a locker row by local_id.
func (s *LockerStore) Update(ctx context.Context, r domain.LockerRow) error {
	cols := append(append([]string{}, lockerColumns[1:]...), "local_id")
	vals := append(append([]any{}, lockerValues(r)[1:]...), r.LocalID)
	return s.gw.Update(ctx, lockerTable, cols, vals)
}

// ListByStatus returns every locker row whose status is one of statuses, used
// at Engine startup to hydrate Active and Disabled lockers.
func (s *LockerStore) ListByStatus(ctx context.Context, statuses ...domain.LockerStatus) ([]domain.LockerRow, error) {
	rows, err := s.gw.Fetch(ctx, lockerTable, nil, nil)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	want := make(map[domain.LockerStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	var out []domain.LockerRow
	for rows.Next() {
		r, err := scanLockerRow(rows)
		if err != nil {
			return nil, err
		}
		if len(want) == 0 || want[r.Status] {
			out = append(out, r)
		}
	}
	return out, rows.Err()
}

func scanLockerRow(rows pgx.Rows) (domain.LockerRow, error) {
	var r domain.LockerRow
	err := rows.Scan(
		&r.LocalID, &r.Strategy, &r.Symbol, &r.StopType, &r.Status, &r.TransactType,
		&r.Direction, &r.EntryPrice, &r.Watermark, &r.StopPrice, &r.Zone,
		&r.Multiplier, &r.DailyATR,
	)
	if err != nil {
		return domain.LockerRow{}, fmt.Errorf("postgres: scan locker row: %w", err)
	}
	return r, nil
}
