package marketdata

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantdesk/tradeengine/internal/domain"
)

func TestOnTradeComputesMidPrice(t *testing.T) {
	c := New(5 * time.Second)
	now := time.Now()

	c.OnTrade(domain.Trade{
		Symbol: "AAPL",
		Bid:    decimal.NewFromFloat(100.0),
		Ask:    decimal.NewFromFloat(100.10),
		Time:   now,
	})

	snap, ok := c.Get("AAPL")
	if !ok {
		t.Fatal("expected snapshot for AAPL")
	}
	want := decimal.NewFromFloat(100.05)
	if !snap.MidPrice.Equal(want) {
		t.Fatalf("mid price = %s, want %s", snap.MidPrice, want)
	}
}

func TestGetSnapshotsOnlyReturnsStaleEntries(t *testing.T) {
	c := New(5 * time.Second)
	now := time.Now()

	c.OnTrade(domain.Trade{Symbol: "FRESH", Bid: decimal.NewFromInt(1), Ask: decimal.NewFromInt(1), Time: now})
	c.OnTrade(domain.Trade{Symbol: "STALE", Bid: decimal.NewFromInt(1), Ask: decimal.NewFromInt(1), Time: now.Add(-10 * time.Second)})

	stale := c.GetSnapshots(now)
	if _, ok := stale["FRESH"]; ok {
		t.Fatal("fresh symbol should not be reported stale")
	}
	if _, ok := stale["STALE"]; !ok {
		t.Fatal("stale symbol should be reported")
	}
}
