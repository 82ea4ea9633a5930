package assets

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/quantdesk/tradeengine/internal/domain"
)

type fakeSource struct {
	assets []domain.Asset
	err    error
}

func (f fakeSource) ListAssets(ctx context.Context) ([]domain.Asset, error) {
	return f.assets, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckIfTradableLong(t *testing.T) {
	c := New(testLogger())
	_ = c.Refresh(context.Background(), fakeSource{assets: []domain.Asset{
		{Symbol: "AAPL", Tradable: true, Shortable: false, Marginable: false, EasyToBorrow: false},
	}})

	if !c.CheckIfTradable("AAPL", domain.DirectionLong) {
		t.Fatal("expected AAPL tradable long")
	}
	if c.CheckIfTradable("AAPL", domain.DirectionShort) {
		t.Fatal("expected AAPL not shortable")
	}
}

func TestCheckIfTradableShortRequiresAllThree(t *testing.T) {
	c := New(testLogger())
	_ = c.Refresh(context.Background(), fakeSource{assets: []domain.Asset{
		{Symbol: "TSLA", Tradable: true, Shortable: true, Marginable: true, EasyToBorrow: true},
		{Symbol: "GME", Tradable: true, Shortable: true, Marginable: true, EasyToBorrow: false},
	}})

	if !c.CheckIfTradable("TSLA", domain.DirectionShort) {
		t.Fatal("expected TSLA shortable")
	}
	if c.CheckIfTradable("GME", domain.DirectionShort) {
		t.Fatal("expected GME not easy to borrow, so not shortable")
	}
}

func TestCheckIfTradableMissingSymbol(t *testing.T) {
	c := New(testLogger())
	if c.CheckIfTradable("UNKNOWN", domain.DirectionLong) {
		t.Fatal("expected missing symbol to be untradable")
	}
}
