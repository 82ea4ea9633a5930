package engine

import (
	"context"
	"time"

	"github.com/quantdesk/tradeengine/internal/marketdata"
)

// staleSweepLoop periodically checks the Market Data Cache for symbols
// whose last trade print has aged past the staleness interval (nominally
// 5s, per spec.md §4.3/§5) and logs them — a lagging subscription is a
// diagnostic signal, not itself an error; broker reconciliation at the next
// registry refresh covers the gap.
func (e *Engine) staleSweepLoop(ctx context.Context) error {
	interval := marketdata.StaleAfter
	if cfg := e.cfg.MarketData.StaleAfter.Duration; cfg > 0 {
		interval = cfg
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			stale := e.mdCache.GetSnapshots(now)
			if len(stale) == 0 {
				continue
			}
			symbols := make([]string, 0, len(stale))
			for s := range stale {
				symbols = append(symbols, s)
			}
			e.log.Warn("engine: stale market-data snapshots", "symbols", symbols)
		}
	}
}
