// Package registry holds the Engine's in-memory order and position state,
// reconciled against the broker and tagged with strategy/direction from
// persistence, per spec.md §4.6.
package registry

import (
	"context"
	"sync"

	"github.com/quantdesk/tradeengine/internal/broker"
	"github.com/quantdesk/tradeengine/internal/domain"
)

// OrderLister lists open broker orders, implemented by *broker.HTTPClient.
type OrderLister interface {
	ListOrders(ctx context.Context) ([]broker.OrderWire, error)
}

// OrderTagSource hydrates strategy/action/direction for a broker order id,
// implemented by domain.OrderStore.
type OrderTagSource interface {
	GetByID(ctx context.Context, localID string) (domain.MktOrder, error)
}

// OrderRegistry is the Engine's symbol-keyed view of open orders.
type OrderRegistry struct {
	mu     sync.RWMutex
	orders map[string]domain.MktOrder
}

// NewOrderRegistry returns an empty OrderRegistry.
func NewOrderRegistry() *OrderRegistry {
	return &OrderRegistry{orders: make(map[string]domain.MktOrder)}
}

// Put inserts or replaces the order keyed by its symbol.
func (r *OrderRegistry) Put(o domain.MktOrder) {
	r.mu.Lock()
	r.orders[o.Symbol] = o
	r.mu.Unlock()
}

// Delete removes the order for symbol.
func (r *OrderRegistry) Delete(symbol string) {
	r.mu.Lock()
	delete(r.orders, symbol)
	r.mu.Unlock()
}

// Get returns the order for symbol, if any.
func (r *OrderRegistry) Get(symbol string) (domain.MktOrder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[symbol]
	return o, ok
}

// Symbols returns every symbol with a currently tracked order.
func (r *OrderRegistry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.orders))
	for s := range r.orders {
		out = append(out, s)
	}
	return out
}

// UpdateOrders reconciles the registry with broker state: every open order
// is hydrated with its strategy/action/direction from tags (the `orders`
// table, keyed by local_id) and inserted.
func (r *OrderRegistry) UpdateOrders(ctx context.Context, lister OrderLister, tags OrderTagSource) error {
	wire, err := lister.ListOrders(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[string]domain.MktOrder, len(wire))
	for _, w := range wire {
		tag, err := tags.GetByID(ctx, w.ID)
		strategy, action, direction := "", domain.Action(""), domain.Direction("")
		if err == nil {
			strategy, action, direction = tag.Strategy, tag.Action, tag.Direction
		}
		o := broker.ToDomain(w, strategy, action, direction)
		fresh[o.Symbol] = o
	}

	r.mu.Lock()
	r.orders = fresh
	r.mu.Unlock()
	return nil
}
