package registry

import (
	"context"
	"sync"

	"github.com/quantdesk/tradeengine/internal/broker"
	"github.com/quantdesk/tradeengine/internal/domain"
)

// PositionLister lists open broker positions, implemented by
// *broker.HTTPClient.
type PositionLister interface {
	ListPositions(ctx context.Context) ([]broker.PositionWire, error)
}

// PositionRegistry is the Engine's symbol-keyed view of open positions.
type PositionRegistry struct {
	mu        sync.RWMutex
	positions map[string]domain.MktPosition
}

// NewPositionRegistry returns an empty PositionRegistry.
func NewPositionRegistry() *PositionRegistry {
	return &PositionRegistry{positions: make(map[string]domain.MktPosition)}
}

// Get returns the position for symbol, if any.
func (r *PositionRegistry) Get(symbol string) (domain.MktPosition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.positions[symbol]
	return p, ok
}

// Symbols returns every symbol with a currently tracked position.
func (r *PositionRegistry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.positions))
	for s := range r.positions {
		out = append(out, s)
	}
	return out
}

// UpdatePositions refreshes positions from the broker and tags each with
// the strategy/direction carried by the matching Active Transaction for
// that symbol, per spec.md §4.6. transactions is keyed by symbol.
func (r *PositionRegistry) UpdatePositions(ctx context.Context, lister PositionLister, transactions map[string]domain.Transaction) error {
	wire, err := lister.ListPositions(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[string]domain.MktPosition, len(wire))
	for _, w := range wire {
		strategy, direction := "", domain.Direction("")
		if txn, ok := transactions[w.Symbol]; ok {
			strategy, direction = txn.Strategy, txn.Direction
		}
		fresh[w.Symbol] = broker.PositionToDomain(w, strategy, direction)
	}

	r.mu.Lock()
	r.positions = fresh
	r.mu.Unlock()
	return nil
}
