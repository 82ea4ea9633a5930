package locker

import (
	"context"
	"log/slog"
	"io"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/quantdesk/tradeengine/internal/config"
	"github.com/quantdesk/tradeengine/internal/domain"
)

type fakeLockerStore struct {
	rows map[string]domain.LockerRow
}

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

type fakeATRSource struct {
	atr float64
}

func (f *fakeATRSource) ATR(ctx context.Context, symbol string, lookbackDays int) (float64, error) {
	return f.atr, nil
}

func testLockerLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLocker(store domain.LockerStore, atr ATRSource) *Locker {
	strategies := map[string]config.Strategy{
		"percent-breakout": {Locker: "tight-percent"},
		"atr-trend":        {Locker: "wide-atr"},
	}
	stops := map[string]config.StopConfig{
		"tight-percent": {LockerType: "Percent", Multiplier: 1.0},
		"wide-atr":      {LockerType: "ATR", Multiplier: 2.0},
	}
	return New(store, atr, strategies, stops, testLockerLog())
}

func TestCreateNewStopUnknownStrategyFails(t *testing.T) {
	l := newTestLocker(newFakeLockerStore(), &fakeATRSource{})
	_, err := l.CreateNewStop(context.Background(), "AAPL", "nonexistent", decimal.NewFromInt(100), domain.TransactOrder, domain.DirectionLong)
	if err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestCreateNewStopPersistsAndTracks(t *testing.T) {
	store := newFakeLockerStore()
	l := newTestLocker(store, &fakeATRSource{})

	localID, err := l.CreateNewStop(context.Background(), "AAPL", "percent-breakout", decimal.NewFromInt(100), domain.TransactOrder, domain.DirectionLong)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if localID == "" {
		t.Fatal("expected non-empty local id")
	}
	if _, ok := store.rows[localID]; !ok {
		t.Fatal("expected stop to be persisted")
	}
	if _, ok := l.Get(localID); !ok {
		t.Fatal("expected stop to be tracked in memory")
	}
}

// TestPercentLongWalksZonesAndTrailsUp independently hand-traces the zone
// walk for a Long percent stop with multiplier 1.0 against a rising price
// path, rather than reusing spec.md's worked example verbatim (its second
// tick's stated arithmetic, 102.10-100*0.01=101.09, does not hold: 100*0.01
// is 1.00 so the result is 101.10, and that figure does not correspond to
// zone 4 under the zone-walk rules described in spec.md §4.8/§9 either).
func TestPercentLongWalksZonesAndTrailsUp(t *testing.T) {
	stop := NewPercentStop("percent-breakout", "AAPL", decimal.NewFromInt(100), 1.0, domain.TransactOrder, domain.DirectionLong)

	// Initial stop_price = entry*(1-pivot1.pct) = 100*(1-0.01) = 99.00.
	if got := stop.stopPrice; got != 99.0 {
		t.Fatalf("initial stop_price = %v, want 99.00", got)
	}

	// First tick to 101.00: price_change = 1.00. 101.00 <= 100*(1.01) = 101.00
	// is false is wrong; 101.00 > 101.00 is false, so zone 1 applies:
	// stop_price += 1.0*1.00 = 100.00, zone becomes 1.
	got, err := stop.PriceUpdate(context.Background(), decimal.NewFromFloat(101.00))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(decimal.NewFromFloat(100.00)) {
		t.Fatalf("stop after tick 1 = %v, want 100.00", got)
	}
	if stop.zone != 1 {
		t.Fatalf("zone after tick 1 = %d, want 1", stop.zone)
	}

	// Second tick to 103.50: price_change = 2.50 off watermark 101.00.
	// zone1 threshold 100*1.01=101.00: 103.50>101.00 -> skip.
	// zone2 threshold 100*1.02=102.00: 103.50>102.00 -> skip.
	// zone3 threshold 100*1.03=103.00: 103.50>103.00 -> skip.
	// zone4: 103.50 > 100*1.04=104.00 is false, so stop_price += trail*change:
	// trail4 = 2.0 - 1/1.0 = 1.0; stop_price = 100.00 + 1.0*2.50 = 102.50.
	got, err = stop.PriceUpdate(context.Background(), decimal.NewFromFloat(103.50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(decimal.NewFromFloat(102.50)) {
		t.Fatalf("stop after tick 2 = %v, want 102.50", got)
	}
	if stop.zone != 4 {
		t.Fatalf("zone after tick 2 = %d, want 4", stop.zone)
	}

	// A pullback never moves the stop down: price_change <= 0 returns the
	// existing stop_price unchanged.
	got, err = stop.PriceUpdate(context.Background(), decimal.NewFromFloat(102.00))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(decimal.NewFromFloat(102.50)) {
		t.Fatalf("stop after pullback = %v, want unchanged 102.50", got)
	}
}

// TestPercentShortStopsOutReproducesScenario reproduces spec.md §8's Short
// stop-out scenario exactly under the mirror interpretation: entry=50,
// multiplier=2.0, initial stop=51.00, tick to 49.00 tightens the stop to
// 50.00, and a subsequent tick to 52.00 crosses it.
func TestPercentShortStopsOutReproducesScenario(t *testing.T) {
	stop := NewPercentStop("percent-breakout", "TSLA", decimal.NewFromInt(50), 2.0, domain.TransactOrder, domain.DirectionShort)

	if got := stop.stopPrice; got != 51.0 {
		t.Fatalf("initial short stop_price = %v, want 51.00", got)
	}

	got, err := stop.PriceUpdate(context.Background(), decimal.NewFromFloat(49.00))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(decimal.NewFromFloat(50.00)) {
		t.Fatalf("stop after tick to 49.00 = %v, want 50.00", got)
	}

	l := newTestLocker(newFakeLockerStore(), &fakeATRSource{})
	localID := "short-stop-1"
	stop.SetLocalID(localID)
	l.stops[localID] = stop
	if _, err := l.ShouldClose(context.Background(), localID, decimal.NewFromFloat(49.00)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	closed, err := l.ShouldClose(context.Background(), localID, decimal.NewFromFloat(52.00))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !closed {
		t.Fatal("expected short stop to trigger close on tick to 52.00")
	}
}

// TestATRLongTightensAndStopsOut reproduces spec.md §8 scenario 3: entry=200,
// multiplier=2, atr=3 -> initial stop=194; a rise to 210 tightens the stop to
// 204; a pullback to 205 leaves it unchanged; a further pullback to 203
// crosses it and should_close reports true.
func TestATRLongTightensAndStopsOut(t *testing.T) {
	atr := &fakeATRSource{atr: 3}
	l := newTestLocker(newFakeLockerStore(), atr)

	localID, err := l.CreateNewStop(context.Background(), "NVDA", "atr-trend", decimal.NewFromInt(200), domain.TransactOrder, domain.DirectionLong)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stop, _ := l.Get(localID)
	atrStop := stop.(*ATRStop)

	got, err := atrStop.PriceUpdate(context.Background(), decimal.NewFromFloat(210))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(decimal.NewFromFloat(204)) {
		t.Fatalf("stop after tick to 210 = %v, want 204", got)
	}

	got, err = atrStop.PriceUpdate(context.Background(), decimal.NewFromFloat(205))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(decimal.NewFromFloat(204)) {
		t.Fatalf("stop after pullback to 205 = %v, want unchanged 204", got)
	}

	closed, err := l.ShouldClose(context.Background(), localID, decimal.NewFromFloat(203))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !closed {
		t.Fatal("expected ATR long stop to trigger close on tick to 203")
	}
}

func TestCompleteAndReviveTransitions(t *testing.T) {
	store := newFakeLockerStore()
	l := newTestLocker(store, &fakeATRSource{})

	localID, err := l.CreateNewStop(context.Background(), "AAPL", "percent-breakout", decimal.NewFromInt(100), domain.TransactOrder, domain.DirectionLong)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := l.Complete(context.Background(), localID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.rows[localID].Status != domain.LockerFinished {
		t.Fatalf("status after complete = %s, want finished", store.rows[localID].Status)
	}

	if err := l.Revive(context.Background(), localID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.rows[localID].Status != domain.LockerActive {
		t.Fatalf("status after revive = %s, want active", store.rows[localID].Status)
	}
}

func TestStartupRehydratesBothStopTypes(t *testing.T) {
	store := newFakeLockerStore()
	store.rows["p1"] = domain.LockerRow{
		LocalID: "p1", Symbol: "AAPL", StopType: domain.StopTypePercent,
		Status: domain.LockerActive, Direction: domain.DirectionLong,
		EntryPrice: 100, StopPrice: 99, Watermark: 100, Multiplier: 1.0,
	}
	store.rows["a1"] = domain.LockerRow{
		LocalID: "a1", Symbol: "NVDA", StopType: domain.StopTypeATR,
		Status: domain.LockerDisabled, Direction: domain.DirectionLong,
		StopPrice: 194, Watermark: 200, Multiplier: 2.0, DailyATR: 3,
	}

	l := newTestLocker(store, &fakeATRSource{atr: 3})
	if err := l.Startup(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := l.Get("p1"); !ok {
		t.Fatal("expected percent stop to be rehydrated")
	}
	stop, ok := l.Get("a1")
	if !ok {
		t.Fatal("expected atr stop to be rehydrated")
	}
	atrStop := stop.(*ATRStop)
	if atrStop.atr == nil {
		t.Fatal("expected rehydrated atr stop to have its ATRSource wired")
	}
}
