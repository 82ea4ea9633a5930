package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

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

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- fakes -------------------------------------------------------------

type fakeAccount struct{ equity decimal.Decimal }

func (f fakeAccount) GetAccount(ctx context.Context) (broker.Account, error) {
	return broker.Account{Equity: f.equity}, nil
}

type fakeStream struct{ lastSymbols []string }

func (f *fakeStream) Subscribe(ctx context.Context, symbols []string) error {
	f.lastSymbols = symbols
	return nil
}

type fakeOrderLister struct{ orders []broker.OrderWire }

func (f fakeOrderLister) ListOrders(ctx context.Context) ([]broker.OrderWire, error) {
	return f.orders, nil
}

type fakePositionLister struct{ positions []broker.PositionWire }

func (f fakePositionLister) ListPositions(ctx context.Context) ([]broker.PositionWire, error) {
	return f.positions, nil
}

type fakeOrderStore struct{ rows map[string]domain.MktOrder }

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{rows: make(map[string]domain.MktOrder)}
}
func (f *fakeOrderStore) Insert(ctx context.Context, o domain.MktOrder) error {
	f.rows[o.LocalID] = o
	return nil
}
func (f *fakeOrderStore) Update(ctx context.Context, o domain.MktOrder) error {
	f.rows[o.LocalID] = o
	return nil
}
func (f *fakeOrderStore) GetByID(ctx context.Context, localID string) (domain.MktOrder, error) {
	o, ok := f.rows[localID]
	if !ok {
		return domain.MktOrder{}, domain.ErrNotFound
	}
	return o, nil
}
func (f *fakeOrderStore) ListOpen(ctx context.Context) ([]domain.MktOrder, error) {
	var out []domain.MktOrder
	for _, o := range f.rows {
		out = append(out, o)
	}
	return out, nil
}

type fakeTxnStore struct{ rows map[string]domain.Transaction }

func newFakeTxnStore() *fakeTxnStore {
	return &fakeTxnStore{rows: make(map[string]domain.Transaction)}
}
func (f *fakeTxnStore) Insert(ctx context.Context, t domain.Transaction) error {
	f.rows[t.LocalID] = t
	return nil
}
func (f *fakeTxnStore) Update(ctx context.Context, t domain.Transaction) error {
	f.rows[t.LocalID] = t
	return nil
}
func (f *fakeTxnStore) GetBySymbol(ctx context.Context, symbol string) (domain.Transaction, error) {
	for _, t := range f.rows {
		if t.Symbol == symbol && t.Status == domain.TransactionActive {
			return t, nil
		}
	}
	return domain.Transaction{}, domain.ErrNotFound
}
func (f *fakeTxnStore) ListActive(ctx context.Context) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, t := range f.rows {
		if t.Status == domain.TransactionActive {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeLockerStore struct{ rows map[string]domain.LockerRow }

func newFakeLockerStore() *fakeLockerStore {
	return &fakeLockerStore{rows: make(map[string]domain.LockerRow)}
}
func (f *fakeLockerStore) Insert(ctx context.Context, r domain.LockerRow) error {
	f.rows[r.LocalID] = r
	return nil
}
func (f *fakeLockerStore) Update(ctx context.Context, r domain.LockerRow) error {
	f.rows[r.LocalID] = r
	return nil
}
func (f *fakeLockerStore) ListByStatus(ctx context.Context, statuses ...domain.LockerStatus) ([]domain.LockerRow, error) {
	want := make(map[domain.LockerStatus]bool)
	for _, s := range statuses {
		want[s] = true
	}
	var out []domain.LockerRow
	for _, r := range f.rows {
		if want[r.Status] {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeAssetSource struct{ assets []domain.Asset }

func (f fakeAssetSource) ListAssets(ctx context.Context) ([]domain.Asset, error) {
	return f.assets, nil
}

type fakeBarSource struct{}

func (fakeBarSource) GetDailyBars(ctx context.Context, symbol string, days int) ([]domain.Bar, error) {
	bars := make([]domain.Bar, 60)
	for i := range bars {
		bars[i] = domain.Bar{
			High:  decimal.NewFromFloat(101),
			Low:   decimal.NewFromFloat(99),
			Close: decimal.NewFromFloat(100),
		}
	}
	return bars, nil
}

type fakePlacer struct {
	postResult    domain.MktOrder
	closeResult   domain.MktOrder
	canceledIDs   []string
	closedSymbols []string
	cancelErr     error
	closeErr      error
}

func (f *fakePlacer) PostOrder(ctx context.Context, req broker.NewOrderRequest, strategy string, action domain.Action, direction domain.Direction) (domain.MktOrder, error) {
	o := f.postResult
	o.Symbol = req.Symbol
	o.Strategy = strategy
	o.Action = action
	o.Direction = direction
	o.Quantity = req.Quantity
	o.LimitPrice = req.LimitPrice
	if o.LocalID == "" {
		o.LocalID = uuid.New().String()
	}
	return o, nil
}

func (f *fakePlacer) ClosePosition(ctx context.Context, symbol string) (domain.MktOrder, error) {
	f.closedSymbols = append(f.closedSymbols, symbol)
	if f.closeErr != nil {
		return domain.MktOrder{}, f.closeErr
	}
	o := f.closeResult
	o.Symbol = symbol
	if o.LocalID == "" {
		o.LocalID = uuid.New().String()
	}
	return o, nil
}

func (f *fakePlacer) CancelOrder(ctx context.Context, localID string) error {
	f.canceledIDs = append(f.canceledIDs, localID)
	return f.cancelErr
}

// --- harness -------------------------------------------------------------

type harness struct {
	eng         *Engine
	placer      *fakePlacer
	orderStore  *fakeOrderStore
	txnStore    *fakeTxnStore
	lockerStore *fakeLockerStore
	lockers     *locker.Locker
	orders      *registry.OrderRegistry
	positions   *registry.PositionRegistry
	txnLedger   *ledger.Ledger
	events      *broker.Publisher
	signals     chan domain.MarketSignal
}

func newHarness(t *testing.T, strategies map[string]config.Strategy, stops map[string]config.StopConfig) *harness {
	t.Helper()

	log := testLogger()
	placer := &fakePlacer{}
	orderStore := newFakeOrderStore()
	txnStore := newFakeTxnStore()
	lockerStore := newFakeLockerStore()

	atr := risksizer.NewATR(fakeBarSource{})
	sizer := risksizer.New(atr)
	lockers := locker.New(lockerStore, atr, strategies, stops, log)
	txnLedger := ledger.New(txnStore)
	orders := registry.NewOrderRegistry()
	positions := registry.NewPositionRegistry()
	catalogue := assets.New(log)
	_ = catalogue.Refresh(context.Background(), fakeAssetSource{assets: []domain.Asset{
		{Symbol: "AAPL", Tradable: true, Shortable: true, Marginable: true, EasyToBorrow: true},
	}})

	signals := make(chan domain.MarketSignal, 8)
	events := broker.NewPublisher()

	cfg := config.Config{
		Strategies: strategies,
		Stops:      stops,
		RiskSizer:  config.RiskSizerConfig{RiskPerTrade: 0.02, DefaultATRMult: 2.0},
	}

	eng := New(Deps{
		Config:         cfg,
		Log:            log,
		Account:        fakeAccount{equity: decimal.NewFromInt(100000)},
		OrderHandler:   orderhandler.New(placer),
		Catalogue:      catalogue,
		MarketData:     marketdata.New(5 * time.Second),
		Sizer:          sizer,
		OrderStore:     orderStore,
		Orders:         orders,
		Positions:      positions,
		Ledger:         txnLedger,
		Lockers:        lockers,
		OrderLister:    fakeOrderLister{},
		PositionLister: fakePositionLister{},
		Events:         events,
		OrderUpdates:   &fakeStream{},
		Trades:         &fakeStream{},
		Signals:        signals,
		Shutdown:       func(cause error) {},
	})

	return &harness{
		eng: eng, placer: placer, orderStore: orderStore, txnStore: txnStore,
		lockerStore: lockerStore, lockers: lockers, orders: orders,
		positions: positions, txnLedger: txnLedger, events: events, signals: signals,
	}
}

func strategyFixture() (map[string]config.Strategy, map[string]config.StopConfig) {
	strategies := map[string]config.Strategy{
		"breakout": {Locker: "tight", TrailingSize: 2.0},
	}
	stops := map[string]config.StopConfig{
		"tight": {LockerType: "Percent", Multiplier: 1.0},
	}
	return strategies, stops
}

// --- tests -----------------------------------------------------------

func TestCreatePositionUnknownStrategyDropped(t *testing.T) {
	strategies, stops := strategyFixture()
	h := newHarness(t, strategies, stops)

	h.eng.createPosition(context.Background(), domain.MarketSignal{
		Strategy: "nope", Symbol: "AAPL", Side: domain.SideBuy,
		Action: domain.ActionCreate, Direction: domain.DirectionLong,
		Price: decimal.NewFromInt(100),
	})

	if len(h.orderStore.rows) != 0 {
		t.Fatalf("expected no order placed for unknown strategy")
	}
	if _, ok := h.orders.Get("AAPL"); ok {
		t.Fatalf("expected no order registered for unknown strategy")
	}
}

func TestCreatePositionPlacesOrderAndLocker(t *testing.T) {
	strategies, stops := strategyFixture()
	h := newHarness(t, strategies, stops)

	h.eng.createPosition(context.Background(), domain.MarketSignal{
		Strategy: "breakout", Symbol: "AAPL", Side: domain.SideBuy,
		Action: domain.ActionCreate, Direction: domain.DirectionLong,
		Price: decimal.NewFromInt(100),
	})

	order, ok := h.orders.Get("AAPL")
	if !ok {
		t.Fatal("expected order registered for AAPL")
	}
	if order.Strategy != "breakout" {
		t.Fatalf("order strategy = %q, want breakout", order.Strategy)
	}
	if len(h.orderStore.rows) != 1 {
		t.Fatalf("expected order persisted, got %d rows", len(h.orderStore.rows))
	}

	stop, ok := h.lockers.BySymbol("AAPL")
	if !ok {
		t.Fatal("expected a locker tracking AAPL")
	}
	if stop.TransactType() != domain.TransactOrder {
		t.Fatalf("transact type = %s, want order", stop.TransactType())
	}
}

func TestOnOrderUpdateEntryFillReplacesLockerAndOpensTransaction(t *testing.T) {
	strategies, stops := strategyFixture()
	h := newHarness(t, strategies, stops)
	ctx := context.Background()

	h.eng.createPosition(ctx, domain.MarketSignal{
		Strategy: "breakout", Symbol: "AAPL", Side: domain.SideBuy,
		Action: domain.ActionCreate, Direction: domain.DirectionLong,
		Price: decimal.NewFromInt(100),
	})
	entryOrder, _ := h.orders.Get("AAPL")
	orderStop, _ := h.lockers.BySymbol("AAPL")
	orderLockerID := orderStop.LocalID()

	h.eng.onOrderUpdate(ctx, domain.OrderUpdate{
		Order:            domain.MktOrder{LocalID: entryOrder.LocalID, Symbol: "AAPL", Quantity: decimal.NewFromInt(10)},
		Event:            domain.OrderStateFilled,
		AverageFillPrice: decimal.NewFromFloat(101.5),
		FilledAt:         time.Now(),
	})

	newStop, ok := h.lockers.BySymbol("AAPL")
	if !ok {
		t.Fatal("expected a Position-typed locker to replace the Order-typed one")
	}
	if newStop.LocalID() == orderLockerID {
		t.Fatalf("expected a new locker id on fill, got the same %s", orderLockerID)
	}
	if newStop.TransactType() != domain.TransactPosition {
		t.Fatalf("transact type = %s, want position", newStop.TransactType())
	}

	txn, ok := h.txnLedger.GetActive("AAPL")
	if !ok {
		t.Fatal("expected an Active transaction opened on entry fill")
	}
	if !txn.EntryPrice.Equal(decimal.NewFromFloat(101.5)) {
		t.Fatalf("entry price = %s, want 101.5", txn.EntryPrice)
	}

	if orderRow, ok := h.lockerStore.rows[orderLockerID]; !ok || orderRow.Status != domain.LockerFinished {
		t.Fatalf("expected old order-locker row to be Finished, got %+v", orderRow)
	}
}

func TestOnOrderUpdateExitCancelRevivesLocker(t *testing.T) {
	strategies, stops := strategyFixture()
	h := newHarness(t, strategies, stops)
	ctx := context.Background()

	h.eng.createPosition(ctx, domain.MarketSignal{
		Strategy: "breakout", Symbol: "AAPL", Side: domain.SideBuy,
		Action: domain.ActionCreate, Direction: domain.DirectionLong,
		Price: decimal.NewFromInt(100),
	})
	entryOrder, _ := h.orders.Get("AAPL")
	h.eng.onOrderUpdate(ctx, domain.OrderUpdate{
		Order:            domain.MktOrder{LocalID: entryOrder.LocalID, Symbol: "AAPL", Quantity: decimal.NewFromInt(10)},
		Event:            domain.OrderStateFilled,
		AverageFillPrice: decimal.NewFromFloat(101.5),
		FilledAt:         time.Now(),
	})

	stop, _ := h.lockers.BySymbol("AAPL")
	localID := stop.LocalID()

	// Force the locker into Disabled, simulating a should_close crossing
	// that dispatched a liquidation order.
	if _, err := h.lockers.ShouldClose(ctx, localID, decimal.NewFromFloat(50)); err != nil {
		t.Fatalf("unexpected error forcing should_close: %v", err)
	}
	if got, _ := h.lockers.BySymbol("AAPL"); got.Status() != domain.LockerDisabled {
		t.Fatalf("expected locker Disabled before exercising cancel race, got %s", got.Status())
	}

	exitOrderID := uuid.New().String()
	h.orderStore.rows[exitOrderID] = domain.MktOrder{
		LocalID: exitOrderID, Symbol: "AAPL", Strategy: "breakout",
		Action: domain.ActionLiquidate, Direction: domain.DirectionLong,
	}

	h.eng.onOrderUpdate(ctx, domain.OrderUpdate{
		Order: domain.MktOrder{LocalID: exitOrderID, Symbol: "AAPL"},
		Event: domain.OrderStateCanceled,
	})

	revived, ok := h.lockers.BySymbol("AAPL")
	if !ok {
		t.Fatal("expected locker still tracked after cancel race")
	}
	if revived.Status() != domain.LockerActive {
		t.Fatalf("expected locker revived to Active, got %s", revived.Status())
	}
}

func TestOnTradeDispatchesLiquidationAndReArmsOnFailure(t *testing.T) {
	strategies, stops := strategyFixture()
	h := newHarness(t, strategies, stops)
	ctx := context.Background()

	h.eng.createPosition(ctx, domain.MarketSignal{
		Strategy: "breakout", Symbol: "AAPL", Side: domain.SideBuy,
		Action: domain.ActionCreate, Direction: domain.DirectionLong,
		Price: decimal.NewFromInt(100),
	})
	entryOrder, _ := h.orders.Get("AAPL")
	h.eng.onOrderUpdate(ctx, domain.OrderUpdate{
		Order:            domain.MktOrder{LocalID: entryOrder.LocalID, Symbol: "AAPL", Quantity: decimal.NewFromInt(10)},
		Event:            domain.OrderStateFilled,
		AverageFillPrice: decimal.NewFromFloat(100),
		FilledAt:         time.Now(),
	})

	h.placer.closeErr = errClosingFails

	// entry=100, multiplier=1.0: initial stop=99. A trade at 98 should
	// trip should_close and attempt liquidation.
	h.eng.onTrade(ctx, domain.Trade{Symbol: "AAPL", Price: decimal.NewFromInt(98)})

	if len(h.placer.closedSymbols) != 1 {
		t.Fatalf("expected one liquidation attempt, got %d", len(h.placer.closedSymbols))
	}

	stop, ok := h.lockers.BySymbol("AAPL")
	if !ok {
		t.Fatal("expected locker still tracked after failed dispatch")
	}
	if stop.Status() != domain.LockerActive {
		t.Fatalf("expected locker re-armed to Active after failed dispatch, got %s", stop.Status())
	}
}

var errClosingFails = &stubError{"broker: close position failed"}

type stubError struct{ msg string }

func (e *stubError) Error() string { return e.msg }
