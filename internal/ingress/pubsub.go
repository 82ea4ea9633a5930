package ingress

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/quantdesk/tradeengine/internal/domain"
)

// RedisConfig holds connection parameters for the PubSub ingress.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	TLSEnabled bool
	Channel    string
}

// PubSub subscribes to a single Redis Pub/Sub channel and decodes each
// message as a domain.MarketSignal, pushing valid ones onto the shared
// signals channel.
type PubSub struct {
	rdb     *redis.Client
	log     *slog.Logger
	channel string
	signals chan<- domain.MarketSignal
}

// NewPubSub creates a PubSub subscriber, verifying Redis connectivity.
func NewPubSub(ctx context.Context, cfg RedisConfig, log *slog.Logger, signals chan<- domain.MarketSignal) (*PubSub, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ingress: redis ping: %w", err)
	}

	return &PubSub{rdb: rdb, log: log, channel: cfg.Channel, signals: signals}, nil
}

// Run subscribes to the configured channel and decodes messages until ctx is
// cancelled. Malformed or invalid payloads are logged and dropped, not fatal
// (per spec.md §7 kind c).
func (p *PubSub) Run(ctx context.Context) error {
	pubsub := p.rdb.Subscribe(ctx, p.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("ingress: subscribe %s: %w", p.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			p.handleMessage(msg.Payload)
		}
	}
}

func (p *PubSub) handleMessage(payload string) {
	var signal domain.MarketSignal
	if err := json.Unmarshal([]byte(payload), &signal); err != nil {
		p.log.Warn("pubsub: decode failed", "error", err)
		return
	}
	signal.Source = domain.SourcePubSub

	if err := signal.Validate(); err != nil {
		p.log.Warn("pubsub: validation failed", "error", err)
		return
	}

	p.signals <- signal
}

// Close releases the underlying Redis client.
func (p *PubSub) Close() error {
	return p.rdb.Close()
}
