// Package assets holds the broker's tradable-universe snapshot, fetched once
// at startup and consulted on every signal before the Engine sizes an order.
package assets

import (
	"context"
	"log/slog"
	"sync"

	"github.com/quantdesk/tradeengine/internal/domain"
)

// Source lists the active asset universe, implemented by *broker.HTTPClient.
type Source interface {
	ListAssets(ctx context.Context) ([]domain.Asset, error)
}

// Catalogue is a symbol-keyed snapshot of broker tradability metadata,
// refreshed at startup per spec.md §4.4.
type Catalogue struct {
	mu     sync.RWMutex
	assets map[string]domain.Asset
	log    *slog.Logger
}

// New returns an empty Catalogue.
func New(log *slog.Logger) *Catalogue {
	return &Catalogue{assets: make(map[string]domain.Asset), log: log}
}

// Refresh replaces the catalogue's contents with a fresh fetch from src.
func (c *Catalogue) Refresh(ctx context.Context, src Source) error {
	fetched, err := src.ListAssets(ctx)
	if err != nil {
		return err
	}

	assets := make(map[string]domain.Asset, len(fetched))
	for _, a := range fetched {
		assets[a.Symbol] = a
	}

	c.mu.Lock()
	c.assets = assets
	c.mu.Unlock()
	return nil
}

// CheckIfTradable reports whether symbol may be traded in direction. Long
// requires only presence in the catalogue; Short additionally requires
// shortable, marginable, and easy-to-borrow. A missing symbol always
// returns false, logging a warning.
func (c *Catalogue) CheckIfTradable(symbol string, direction domain.Direction) bool {
	c.mu.RLock()
	a, ok := c.assets[symbol]
	c.mu.RUnlock()

	if !ok {
		c.log.Warn("asset not found in catalogue", "symbol", symbol)
		return false
	}

	switch direction {
	case domain.DirectionLong:
		return true
	case domain.DirectionShort:
		return a.Shortable && a.Marginable && a.EasyToBorrow
	default:
		return false
	}
}
