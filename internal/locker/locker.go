package locker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantdesk/tradeengine/internal/config"
	"github.com/quantdesk/tradeengine/internal/domain"
)

// Locker holds every stop the Engine is currently tracking, keyed by
// local_id, guarded by a single mutex per spec.md §5.
type Locker struct {
	mu         sync.Mutex
	stops      map[string]Stop
	strategies map[string]config.Strategy
	stopCfgs   map[string]config.StopConfig
	store      domain.LockerStore
	atr        ATRSource
	log        *slog.Logger
}

// New returns an empty Locker. strategies/stopCfgs come straight from
// config.Config.Strategies / config.Config.Stops.
func New(store domain.LockerStore, atr ATRSource, strategies map[string]config.Strategy, stopCfgs map[string]config.StopConfig, log *slog.Logger) *Locker {
	return &Locker{
		stops:      make(map[string]Stop),
		strategies: strategies,
		stopCfgs:   stopCfgs,
		store:      store,
		atr:        atr,
		log:        log,
	}
}

// Startup loads every Active and Disabled Locker row and rehydrates its
// Stop, per spec.md §4.7/§4.8's bootstrap hydration.
func (l *Locker) Startup(ctx context.Context) error {
	rows, err := l.store.ListByStatus(ctx, domain.LockerActive, domain.LockerDisabled)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, row := range rows {
		stop := fromRow(row)
		if atrStop, ok := stop.(*ATRStop); ok {
			atrStop.SetATRSource(l.atr)
		}
		l.stops[row.LocalID] = stop
	}
	return nil
}

// CreateNewStop builds a new Stop for symbol under strategy's configured
// locker, persists it (allocating local_id on first write), and returns
// that local_id.
func (l *Locker) CreateNewStop(ctx context.Context, symbol, strategy string, entryPrice decimal.Decimal, transactType domain.TransactType, direction domain.Direction) (string, error) {
	strategyCfg, ok := l.strategies[strategy]
	if !ok {
		return "", fmt.Errorf("locker: %w: %s", domain.ErrUnknownStrategy, strategy)
	}
	stopCfg, ok := l.stopCfgs[strategyCfg.Locker]
	if !ok {
		return "", fmt.Errorf("locker: no stop configuration named %q", strategyCfg.Locker)
	}

	var stop Stop
	switch stopCfg.LockerType {
	case "ATR":
		stop = NewATRStop(strategy, symbol, entryPrice, stopCfg.Multiplier, transactType, direction, l.atr)
	default:
		stop = NewPercentStop(strategy, symbol, entryPrice, stopCfg.Multiplier, transactType, direction)
	}

	localID := uuid.New().String()
	stop.SetLocalID(localID)

	if err := l.store.Insert(ctx, stop.Row()); err != nil {
		return "", err
	}

	l.mu.Lock()
	l.stops[localID] = stop
	l.mu.Unlock()

	l.log.Info("locker tracking new stop", "strategy", strategy, "symbol", symbol, "local_id", localID, "transact_type", transactType)
	return localID, nil
}

// UpdateStop recomputes a stop's derived parameters against a new entry
// price, keeping local_id.
func (l *Locker) UpdateStop(ctx context.Context, localID string, entryPrice decimal.Decimal) error {
	l.mu.Lock()
	stop, ok := l.stops[localID]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("locker: %w: %s", domain.ErrLockerNotFound, localID)
	}

	stop.RefreshEntryPrice(entryPrice)
	return l.store.Update(ctx, stop.Row())
}

// Complete marks a stop Finished. Terminal; no further state transitions.
func (l *Locker) Complete(ctx context.Context, localID string) error {
	return l.transition(ctx, localID, domain.LockerFinished)
}

// Revive returns a Disabled stop to Active, used when a cancel races a fill.
func (l *Locker) Revive(ctx context.Context, localID string) error {
	return l.transition(ctx, localID, domain.LockerActive)
}

func (l *Locker) transition(ctx context.Context, localID string, status domain.LockerStatus) error {
	l.mu.Lock()
	stop, ok := l.stops[localID]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("locker: %w: %s", domain.ErrLockerNotFound, localID)
	}

	stop.SetStatus(status)
	l.log.Info("locker status transition", "local_id", localID, "symbol", stop.Symbol(), "status", status)
	return l.store.Update(ctx, stop.Row())
}

// PrintStop returns a human-readable status string for localID.
func (l *Locker) PrintStop(localID string) (string, error) {
	l.mu.Lock()
	stop, ok := l.stops[localID]
	l.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("locker: %w: %s", domain.ErrLockerNotFound, localID)
	}
	return stop.String(), nil
}

// ShouldClose updates the stop for tradePrice and reports whether it has
// crossed, per spec.md §4.8: Long closes when stop_price > trade_price,
// Short when stop_price < trade_price. A crossing transitions the stop to
// Disabled before returning true.
func (l *Locker) ShouldClose(ctx context.Context, localID string, tradePrice decimal.Decimal) (bool, error) {
	l.mu.Lock()
	stop, ok := l.stops[localID]
	l.mu.Unlock()
	if !ok {
		l.log.Info("locker: local_id not tracked", "local_id", localID)
		return false, nil
	}

	if stop.Status() != domain.LockerActive {
		return false, nil
	}

	stopPrice, err := stop.PriceUpdate(ctx, tradePrice)
	if err != nil {
		return false, err
	}

	var crossed bool
	switch stop.Direction() {
	case domain.DirectionShort:
		crossed = stopPrice.LessThan(tradePrice)
	default:
		crossed = stopPrice.GreaterThan(tradePrice)
	}

	if stop.TransactType() == domain.TransactPosition {
		if err := l.store.Update(ctx, stop.Row()); err != nil {
			l.log.Warn("locker: failed to persist price update", "local_id", localID, "error", err)
		}
	}

	if !crossed {
		return false, nil
	}

	stop.SetStatus(domain.LockerDisabled)
	l.log.Info("locker closing transaction", "symbol", stop.Symbol(), "trade_price", tradePrice, "stop_price", stopPrice)
	if err := l.store.Update(ctx, stop.Row()); err != nil {
		return true, err
	}
	return true, nil
}

// Get returns the Stop for localID, for callers (the Engine) that need its
// Symbol/Direction/TransactType without a full ShouldClose call.
func (l *Locker) Get(localID string) (Stop, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.stops[localID]
	return s, ok
}

// BySymbol returns an Active or Disabled Stop tracked for symbol; Finished
// stops are never returned, and if several non-Finished stops share the
// symbol, which one is returned is not defined. The Engine's order-update
// and trade handlers are keyed by symbol on the wire, not local_id, so they
// resolve the governing Locker through this lookup before acting on it.
func (l *Locker) BySymbol(symbol string) (Stop, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.stops {
		if s.Symbol() == symbol && s.Status() != domain.LockerFinished {
			return s, true
		}
	}
	return nil, false
}
