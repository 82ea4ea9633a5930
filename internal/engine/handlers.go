package engine

import (
	"context"
	"fmt"

	"github.com/quantdesk/tradeengine/internal/domain"
	"github.com/quantdesk/tradeengine/internal/orderhandler"
)

// onSignal dispatches a validated MarketSignal on its Action, per spec.md
// §3/§4.10: Create sizes and places a new entry; Liquidate closes whatever
// position the registry currently holds for the symbol (an operator- or
// strategy-initiated exit distinct from a Locker-triggered one — the
// resulting order-update still flows through onExitFilled/onExitCanceled
// like any other liquidation).
func (e *Engine) onSignal(ctx context.Context, sig domain.MarketSignal) {
	switch sig.Action {
	case domain.ActionCreate:
		e.createPosition(ctx, sig)
	case domain.ActionLiquidate:
		e.liquidateSignal(ctx, sig)
	default:
		e.log.Warn("engine: signal with unrecognised action dropped", "strategy", sig.Strategy, "symbol", sig.Symbol, "action", sig.Action)
	}
}

// createPosition implements spec.md §4.10's create_position: reject unknown
// strategies and untradable symbols (both logged, signal dropped, §7 kind
// c), size via the Risk Sizer, place via the Order Handler, register the
// resulting order, and create an Order-typed Locker at the signal price.
func (e *Engine) createPosition(ctx context.Context, sig domain.MarketSignal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	strategyCfg, ok := e.cfg.Strategies[sig.Strategy]
	if !ok {
		e.log.Info("engine: signal for unknown strategy dropped", "strategy", sig.Strategy, "symbol", sig.Symbol)
		return
	}

	if !e.catalogue.CheckIfTradable(sig.Symbol, sig.Direction) {
		e.log.Info("engine: signal for untradable symbol dropped", "symbol", sig.Symbol, "direction", sig.Direction)
		return
	}

	account, err := e.account.GetAccount(ctx)
	if err != nil {
		e.log.Error("engine: fetch account equity failed", "symbol", sig.Symbol, "error", err)
		return
	}

	multiplier := strategyCfg.TrailingSize
	if multiplier <= 0 {
		multiplier = e.cfg.RiskSizer.DefaultATRMult
	}

	rawShares, err := e.sizer.Size(ctx, sig.Symbol, account.Equity.InexactFloat64(), multiplier, len(e.cfg.Strategies))
	if err != nil {
		e.log.Error("engine: risk sizing failed", "symbol", sig.Symbol, "error", err)
		return
	}
	shares := orderhandler.SharesFromRisk(rawShares)
	if shares <= 0 {
		e.log.Warn("engine: sized quantity rounds to zero shares, dropping signal", "symbol", sig.Symbol, "raw_shares", rawShares)
		return
	}

	order, err := e.orderHandler.CreatePosition(ctx, sig.Symbol, sig.Strategy, sig.Price, shares, sig.Side, sig.Direction)
	if err != nil {
		e.log.Error("engine: place entry order failed", "symbol", sig.Symbol, "error", err)
		return
	}

	if err := e.orderStore.Insert(ctx, order); err != nil {
		e.log.Error("engine: persist entry order failed", "symbol", sig.Symbol, "order_id", order.LocalID, "error", err)
		e.shutdown(fmt.Errorf("engine: persist entry order %s: %w", order.LocalID, err))
		return
	}
	e.orders.Put(order)

	if _, err := e.lockers.CreateNewStop(ctx, sig.Symbol, sig.Strategy, sig.Price, domain.TransactOrder, sig.Direction); err != nil {
		e.log.Error("engine: create entry locker failed", "symbol", sig.Symbol, "error", err)
		e.shutdown(fmt.Errorf("engine: create locker for %s: %w", sig.Symbol, err))
		return
	}

	e.log.Info("engine: entry order placed", "symbol", sig.Symbol, "strategy", sig.Strategy, "shares", shares, "order_id", order.LocalID)
}

// liquidateSignal handles a manually-initiated MarketSignal with
// Action=Liquidate: it closes whatever open position the registry holds
// for the symbol. A symbol with no tracked position is a no-op, per §7
// kind c.
func (e *Engine) liquidateSignal(ctx context.Context, sig domain.MarketSignal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.positions.Get(sig.Symbol); !ok {
		e.log.Info("engine: liquidate signal for untracked position dropped", "symbol", sig.Symbol)
		return
	}

	order, err := e.orderHandler.LiquidatePosition(ctx, sig.Symbol)
	if err != nil {
		e.log.Error("engine: liquidate order failed", "symbol", sig.Symbol, "error", err)
		return
	}
	order.Strategy = sig.Strategy
	order.Action = domain.ActionLiquidate
	order.Direction = sig.Direction

	if err := e.orderStore.Insert(ctx, order); err != nil {
		e.log.Error("engine: persist liquidate order failed", "symbol", sig.Symbol, "order_id", order.LocalID, "error", err)
		e.shutdown(fmt.Errorf("engine: persist liquidate order %s: %w", order.LocalID, err))
		return
	}
	e.orders.Put(order)

	e.log.Info("engine: liquidate order placed", "symbol", sig.Symbol, "order_id", order.LocalID)
}

// hydrateOrderTags fills in the Strategy/Action/Direction fields a broker
// order-update frame never carries: first from the matching registry entry
// (the common case — the registry already holds the order this event
// refers to), falling back to the persisted `order` row by LocalID for an
// event that beats the registry's own Put (a race the spec tolerates: order
// ordering is per-symbol, not cross-component).
func (e *Engine) hydrateOrderTags(ctx context.Context, wire domain.MktOrder) domain.MktOrder {
	if existing, ok := e.orders.Get(wire.Symbol); ok && existing.LocalID == wire.LocalID {
		wire.Strategy, wire.Action, wire.Direction = existing.Strategy, existing.Action, existing.Direction
		return wire
	}
	if persisted, err := e.orderStore.GetByID(ctx, wire.LocalID); err == nil {
		wire.Strategy, wire.Action, wire.Direction = persisted.Strategy, persisted.Action, persisted.Direction
	}
	return wire
}

// onOrderUpdate routes a single order-update event to the handler named by
// its (Event, Action) pair, per spec.md §4.10. An order this engine cannot
// tag to a strategy is a state-inconsistency case (§7 kind e): logged and
// dropped.
func (e *Engine) onOrderUpdate(ctx context.Context, u domain.OrderUpdate) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order := e.hydrateOrderTags(ctx, u.Order)
	if order.Strategy == "" || order.Action == "" {
		e.log.Warn("engine: order-update for untagged order dropped", "local_id", u.Order.LocalID, "symbol", u.Order.Symbol, "event", u.Event)
		return
	}

	switch {
	case u.Event == domain.OrderStateNew && order.Action == domain.ActionCreate:
		e.onOrderNew(ctx, order, u)
	case u.Event == domain.OrderStateFilled && order.Action == domain.ActionCreate:
		e.onEntryFilled(ctx, order, u)
	case u.Event == domain.OrderStateFilled && order.Action == domain.ActionLiquidate:
		e.onExitFilled(ctx, order, u)
	case u.Event == domain.OrderStateCanceled && order.Action == domain.ActionCreate:
		e.onEntryCanceled(ctx, order)
	case u.Event == domain.OrderStateCanceled && order.Action == domain.ActionLiquidate:
		e.onExitCanceled(ctx, order)
	default:
		e.log.Debug("engine: order-update event not actionable", "event", u.Event, "action", order.Action, "symbol", order.Symbol)
	}
}

// onOrderNew ensures a Locker with transact_type=Order exists at the
// order's limit price. A Locker may already exist (created synchronously by
// createPosition before this event arrives); this is idempotent.
func (e *Engine) onOrderNew(ctx context.Context, order domain.MktOrder, u domain.OrderUpdate) {
	e.orders.Put(order)

	if _, ok := e.lockers.BySymbol(order.Symbol); ok {
		return
	}

	limit := u.LimitPrice
	if limit.IsZero() {
		limit = order.LimitPrice
	}
	if _, err := e.lockers.CreateNewStop(ctx, order.Symbol, order.Strategy, limit, domain.TransactOrder, order.Direction); err != nil {
		e.log.Error("engine: create locker on order ack failed", "symbol", order.Symbol, "error", err)
		e.shutdown(fmt.Errorf("engine: create locker for %s: %w", order.Symbol, err))
	}
}

// onEntryFilled replaces the Order-typed Locker with a Position-typed
// Locker at the average fill price and opens an Active Transaction.
func (e *Engine) onEntryFilled(ctx context.Context, order domain.MktOrder, u domain.OrderUpdate) {
	order = markFilled(order, u)
	e.orders.Delete(order.Symbol)
	if err := e.orderStore.Update(ctx, order); err != nil {
		e.log.Warn("engine: persist filled entry order failed", "symbol", order.Symbol, "error", err)
	}

	stop, ok := e.lockers.BySymbol(order.Symbol)
	if !ok {
		e.log.Warn("engine: filled entry with no tracked locker", "symbol", order.Symbol)
		return
	}
	if err := e.lockers.Complete(ctx, stop.LocalID()); err != nil {
		e.log.Warn("engine: complete order-locker failed", "symbol", order.Symbol, "error", err)
	}

	lockerID, err := e.lockers.CreateNewStop(ctx, order.Symbol, order.Strategy, u.AverageFillPrice, domain.TransactPosition, order.Direction)
	if err != nil {
		e.log.Error("engine: create position locker failed", "symbol", order.Symbol, "error", err)
		e.shutdown(fmt.Errorf("engine: create position locker for %s: %w", order.Symbol, err))
		return
	}

	if _, err := e.ledger.AddTransaction(ctx, lockerID, order); err != nil {
		e.log.Error("engine: open transaction failed", "symbol", order.Symbol, "error", err)
		e.shutdown(fmt.Errorf("engine: open transaction for %s: %w", order.Symbol, err))
		return
	}

	if err := e.positions.UpdatePositions(ctx, e.positionLister, e.ledger.ActiveBySymbol()); err != nil {
		e.log.Warn("engine: refresh positions after entry fill failed", "symbol", order.Symbol, "error", err)
	}
}

// onExitFilled marks the governing Locker Finished and closes the Active
// Transaction using the position's cost basis / unrealised PnL as of the
// fill.
func (e *Engine) onExitFilled(ctx context.Context, order domain.MktOrder, u domain.OrderUpdate) {
	order = markFilled(order, u)
	e.orders.Delete(order.Symbol)
	if err := e.orderStore.Update(ctx, order); err != nil {
		e.log.Warn("engine: persist filled exit order failed", "symbol", order.Symbol, "error", err)
	}

	position, ok := e.positions.Get(order.Symbol)
	if !ok {
		e.log.Warn("engine: exit fill with no tracked position, closing transaction with zero PnL", "symbol", order.Symbol)
	}

	if stop, ok := e.lockers.BySymbol(order.Symbol); ok {
		if err := e.lockers.Complete(ctx, stop.LocalID()); err != nil {
			e.log.Warn("engine: complete position-locker failed", "symbol", order.Symbol, "error", err)
		}
	} else {
		e.log.Warn("engine: exit fill with no tracked locker", "symbol", order.Symbol)
	}

	if _, err := e.ledger.CloseTransaction(ctx, order, position); err != nil {
		e.log.Error("engine: close transaction failed", "symbol", order.Symbol, "error", err)
		e.shutdown(fmt.Errorf("engine: close transaction for %s: %w", order.Symbol, err))
		return
	}

	if err := e.positions.UpdatePositions(ctx, e.positionLister, e.ledger.ActiveBySymbol()); err != nil {
		e.log.Warn("engine: refresh positions after exit fill failed", "symbol", order.Symbol, "error", err)
	}
}

// onEntryCanceled marks the governing Locker Finished: the entry never
// filled, so there is nothing left to trail.
func (e *Engine) onEntryCanceled(ctx context.Context, order domain.MktOrder) {
	order.State = domain.OrderStateCanceled
	e.orders.Delete(order.Symbol)
	if err := e.orderStore.Update(ctx, order); err != nil {
		e.log.Warn("engine: persist canceled entry order failed", "symbol", order.Symbol, "error", err)
	}

	if stop, ok := e.lockers.BySymbol(order.Symbol); ok {
		if err := e.lockers.Complete(ctx, stop.LocalID()); err != nil {
			e.log.Warn("engine: complete locker on entry cancel failed", "symbol", order.Symbol, "error", err)
		}
	}
}

// onExitCanceled revives the governing Locker: a cancel racing a fill means
// the position is still live and must keep trailing.
func (e *Engine) onExitCanceled(ctx context.Context, order domain.MktOrder) {
	order.State = domain.OrderStateCanceled
	if err := e.orderStore.Update(ctx, order); err != nil {
		e.log.Warn("engine: persist canceled exit order failed", "symbol", order.Symbol, "error", err)
	}

	if stop, ok := e.lockers.BySymbol(order.Symbol); ok {
		if err := e.lockers.Revive(ctx, stop.LocalID()); err != nil {
			e.log.Warn("engine: revive locker on exit cancel failed", "symbol", order.Symbol, "error", err)
		}
	}
}

// onTrade implements spec.md §4.10's on_trade: if the symbol's Locker is
// Active and ShouldClose trips, dispatch a cancel (Order-typed) or
// liquidation (Position-typed). A dispatch failure re-arms the Locker so
// the next trade gets another chance to close it.
func (e *Engine) onTrade(ctx context.Context, t domain.Trade) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stop, ok := e.lockers.BySymbol(t.Symbol)
	if !ok || stop.Status() != domain.LockerActive {
		return
	}

	shouldClose, err := e.lockers.ShouldClose(ctx, stop.LocalID(), t.Price)
	if err != nil {
		e.log.Warn("engine: locker price update failed", "symbol", t.Symbol, "error", err)
		return
	}
	if !shouldClose {
		return
	}

	var dispatchErr error
	switch stop.TransactType() {
	case domain.TransactOrder:
		order, found := e.orders.Get(t.Symbol)
		if !found {
			e.log.Warn("engine: stop tripped for order-locker with no tracked order", "symbol", t.Symbol)
			return
		}
		dispatchErr = e.orderHandler.CancelOrder(ctx, order.LocalID)
	case domain.TransactPosition:
		_, dispatchErr = e.orderHandler.LiquidatePosition(ctx, t.Symbol)
	}

	if dispatchErr != nil {
		e.log.Warn("engine: stop dispatch failed, re-arming locker", "symbol", t.Symbol, "error", dispatchErr)
		if err := e.lockers.Revive(ctx, stop.LocalID()); err != nil {
			e.log.Warn("engine: revive after failed dispatch failed", "symbol", t.Symbol, "error", err)
		}
	}
}

// markFilled folds a Filled order-update's fill fields into order.
func markFilled(order domain.MktOrder, u domain.OrderUpdate) domain.MktOrder {
	order.State = domain.OrderStateFilled
	order.FilledQuantity = order.Quantity
	order.AvgFillPrice = u.AverageFillPrice
	if !u.FilledAt.IsZero() {
		filledAt := u.FilledAt
		order.FilledAt = &filledAt
	}
	return order
}
