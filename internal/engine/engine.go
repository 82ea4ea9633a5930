// Package engine orchestrates the trade-lifecycle components: it consumes
// MarketSignal ingress and broker stream events, and drives every state
// transition across the Registries, Ledger, and Locker, per spec.md §4.10.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/quantdesk/tradeengine/internal/assets"
	"github.com/quantdesk/tradeengine/internal/broker"
	"github.com/quantdesk/tradeengine/internal/config"
	"github.com/quantdesk/tradeengine/internal/domain"
	"github.com/quantdesk/tradeengine/internal/ledger"
	"github.com/quantdesk/tradeengine/internal/locker"
	"github.com/quantdesk/tradeengine/internal/marketdata"
	"github.com/quantdesk/tradeengine/internal/orderhandler"
	"github.com/quantdesk/tradeengine/internal/registry"
	"github.com/quantdesk/tradeengine/internal/risksizer"
)

// Account reports the trading account's current equity, implemented by
// *broker.HTTPClient.
type Account interface {
	GetAccount(ctx context.Context) (broker.Account, error)
}

// Stream is the subset of *broker.StreamClient the Engine needs to start a
// long-lived stream against a symbol set.
type Stream interface {
	Subscribe(ctx context.Context, symbols []string) error
}

// Engine ties every trade-lifecycle component together behind a single
// mutex: the Engine is the sole writer to Registries, Ledger, and Locker,
// per spec.md §5's shared-mutable-state model.
type Engine struct {
	mu sync.Mutex

	cfg config.Config
	log *slog.Logger

	account      Account
	orderHandler *orderhandler.Handler
	catalogue    *assets.Catalogue
	mdCache      *marketdata.Cache
	sizer        *risksizer.Sizer
	orderStore   domain.OrderStore

	orders    *registry.OrderRegistry
	positions *registry.PositionRegistry
	ledger    *ledger.Ledger
	lockers   *locker.Locker

	orderLister    registry.OrderLister
	positionLister registry.PositionLister

	events     *broker.Publisher
	orderUpd   Stream
	trades     Stream
	signals    <-chan domain.MarketSignal
	shutdown   broker.ShutdownFunc
}

// Deps bundles every collaborator the Engine needs at construction, each
// already wired against the shared Connectors per spec.md §9's
// shared-ownership-handle resolution for the Engine/Connector cycle.
type Deps struct {
	Config         config.Config
	Log            *slog.Logger
	Account        Account
	OrderHandler   *orderhandler.Handler
	Catalogue      *assets.Catalogue
	MarketData     *marketdata.Cache
	Sizer          *risksizer.Sizer
	OrderStore     domain.OrderStore
	Orders         *registry.OrderRegistry
	Positions      *registry.PositionRegistry
	Ledger         *ledger.Ledger
	Lockers        *locker.Locker
	OrderLister    registry.OrderLister
	PositionLister registry.PositionLister
	Events         *broker.Publisher
	OrderUpdates   Stream
	Trades         Stream
	Signals        <-chan domain.MarketSignal
	Shutdown       broker.ShutdownFunc
}

// New assembles an Engine from deps.
func New(deps Deps) *Engine {
	return &Engine{
		cfg:            deps.Config,
		log:            deps.Log,
		account:        deps.Account,
		orderHandler:   deps.OrderHandler,
		catalogue:      deps.Catalogue,
		mdCache:        deps.MarketData,
		sizer:          deps.Sizer,
		orderStore:     deps.OrderStore,
		orders:         deps.Orders,
		positions:      deps.Positions,
		ledger:         deps.Ledger,
		lockers:        deps.Lockers,
		orderLister:    deps.OrderLister,
		positionLister: deps.PositionLister,
		events:         deps.Events,
		orderUpd:       deps.OrderUpdates,
		trades:         deps.Trades,
		signals:        deps.Signals,
		shutdown:       deps.Shutdown,
	}
}

// Startup runs the deterministic bootstrap sequence spec.md §4.10 demands:
// account equity, registries refreshed from broker state, historical
// Locker/Transaction hydration, then market-data and order-update stream
// subscription for the union of open symbols.
func (e *Engine) Startup(ctx context.Context) error {
	if _, err := e.account.GetAccount(ctx); err != nil {
		return fmt.Errorf("engine: startup: fetch account: %w", err)
	}

	if err := e.orders.UpdateOrders(ctx, e.orderLister, e.orderStore); err != nil {
		return fmt.Errorf("engine: startup: refresh order registry: %w", err)
	}

	active, err := e.ledger.Bootstrap(ctx)
	if err != nil {
		return fmt.Errorf("engine: startup: bootstrap ledger: %w", err)
	}
	e.log.Info("engine: bootstrapped active transactions", "count", len(active))

	if err := e.positions.UpdatePositions(ctx, e.positionLister, e.ledger.ActiveBySymbol()); err != nil {
		return fmt.Errorf("engine: startup: refresh position registry: %w", err)
	}

	if err := e.lockers.Startup(ctx); err != nil {
		return fmt.Errorf("engine: startup: hydrate lockers: %w", err)
	}

	symbols := unionSymbols(e.orders.Symbols(), e.positions.Symbols())
	if err := e.trades.Subscribe(ctx, symbols); err != nil {
		return fmt.Errorf("engine: startup: subscribe market data: %w", err)
	}
	if err := e.orderUpd.Subscribe(ctx, symbols); err != nil {
		return fmt.Errorf("engine: startup: subscribe order updates: %w", err)
	}

	e.log.Info("engine: startup complete", "symbols", symbols)
	return nil
}

// Run drives the Engine's main loop until ctx is cancelled: a single
// subscription to the shared event Publisher (carrying both Event::Trade
// and Event::OrderUpdate, processed serially so per-symbol order-update
// ordering is preserved) alongside the ingress signal channel, plus a
// periodic market-data staleness sweep. These are the Engine's share of
// spec.md §5's three long-lived tasks; the other two (the order-update and
// trade stream readers) run inside their respective *broker.StreamClient.
func (e *Engine) Run(ctx context.Context) error {
	sub := e.events.Subscribe()
	defer e.events.Unsubscribe(sub)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.mainLoop(ctx, sub)
	})

	g.Go(func() error {
		return e.staleSweepLoop(ctx)
	})

	return g.Wait()
}

func (e *Engine) mainLoop(ctx context.Context, sub chan domain.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sig, ok := <-e.signals:
			if !ok {
				e.signals = nil
				continue
			}
			e.onSignal(ctx, sig)

		case ev, ok := <-sub:
			if !ok {
				return fmt.Errorf("engine: event publisher subscription closed")
			}
			switch ev.Kind {
			case domain.EventOrderUpdate:
				e.onOrderUpdate(ctx, ev.OrderUpdate)
			case domain.EventTrade:
				e.mdCache.OnTrade(ev.Trade)
				e.onTrade(ctx, ev.Trade)
			}
		}
	}
}

func unionSymbols(groups ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, g := range groups {
		for _, s := range g {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}
