// Command tradeengine is the process entry point for the trade-lifecycle
// engine: it parses broker credentials off the command line, loads and
// validates configuration, wires every component, and runs the Engine
// until signalled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/quantdesk/tradeengine/internal/assets"
	"github.com/quantdesk/tradeengine/internal/broker"
	"github.com/quantdesk/tradeengine/internal/config"
	"github.com/quantdesk/tradeengine/internal/domain"
	"github.com/quantdesk/tradeengine/internal/engine"
	"github.com/quantdesk/tradeengine/internal/ingress"
	"github.com/quantdesk/tradeengine/internal/ledger"
	"github.com/quantdesk/tradeengine/internal/locker"
	"github.com/quantdesk/tradeengine/internal/marketdata"
	"github.com/quantdesk/tradeengine/internal/orderhandler"
	"github.com/quantdesk/tradeengine/internal/registry"
	"github.com/quantdesk/tradeengine/internal/risksizer"
	"github.com/quantdesk/tradeengine/internal/store/postgres"
)

func main() {
	configPath := flag.String("config", "config.json", "path to configuration file")
	key := flag.String("key", "", "broker API key")
	flag.StringVar(key, "k", "", "broker API key (shorthand)")
	secret := flag.String("secret", "", "broker API secret")
	flag.StringVar(secret, "s", "", "broker API secret (shorthand)")
	accountType := flag.String("type", "", "broker account type: paper or live")
	flag.StringVar(accountType, "a", "", "broker account type (shorthand)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	config.ApplyBrokerFlags(cfg, *key, *secret, *accountType)

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("tradeengine starting", "config", *configPath, "account_type", cfg.Broker.AccountType, "redacted_config", config.RedactedConfig(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var shutdownOnce sync.Once
	var shutdownCause error
	shutdown := func(cause error) {
		shutdownOnce.Do(func() {
			shutdownCause = cause
			logger.Error("tradeengine: fatal error, cancelling shutdown token", "error", cause)
			cancel()
		})
	}

	if err := run(ctx, cfg, logger, shutdown); err != nil && ctx.Err() == nil {
		logger.Error("tradeengine exited with error", "error", err)
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	if shutdownCause != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", shutdownCause)
		os.Exit(1)
	}

	logger.Info("tradeengine stopped")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// run wires every component and drives the Engine until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, shutdown broker.ShutdownFunc) error {
	gw, err := postgres.New(ctx, postgres.GatewayConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		return fmt.Errorf("tradeengine: connect database: %w", err)
	}
	defer gw.Close()

	if cfg.Database.RunMigrations {
		if err := gw.RunMigrations(ctx); err != nil {
			return fmt.Errorf("tradeengine: run migrations: %w", err)
		}
	}

	orderStore := postgres.NewOrderStore(gw)
	txnStore := postgres.NewTransactionStore(gw)
	lockerStore := postgres.NewLockerStore(gw)

	httpClient := broker.NewHTTPClient(cfg.Broker.BaseURL, cfg.Broker.Key, cfg.Broker.Secret, shutdown)
	publisher := broker.NewPublisher()
	orderUpdateStream := broker.NewStreamClient(cfg.Broker.StreamURL, broker.StreamOrderUpdates, publisher, shutdown, logger)
	tradeStream := broker.NewStreamClient(cfg.Broker.StreamURL, broker.StreamTrades, publisher, shutdown, logger)

	catalogue := assets.New(logger)
	if err := catalogue.Refresh(ctx, httpClient); err != nil {
		return fmt.Errorf("tradeengine: refresh asset catalogue: %w", err)
	}

	mdCache := marketdata.New(cfg.MarketData.StaleAfter.Duration)
	atr := risksizer.NewATR(httpClient)
	sizer := risksizer.New(atr)

	orderRegistry := registry.NewOrderRegistry()
	positionRegistry := registry.NewPositionRegistry()
	txnLedger := ledger.New(txnStore)
	lockerSvc := locker.New(lockerStore, atr, cfg.Strategies, cfg.Stops, logger)
	orderHandler := orderhandler.New(httpClient)

	signals := make(chan domain.MarketSignal, 64)

	var webhookServer *ingress.Webhook
	if cfg.Webhook.Enabled {
		webhookServer = ingress.NewWebhook(logger, signals)
	}

	pubsub, err := ingress.NewPubSub(ctx, ingress.RedisConfig{
		Addr:    cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:      cfg.Redis.DB,
		Channel: cfg.Redis.Channel,
	}, logger, signals)
	if err != nil {
		return fmt.Errorf("tradeengine: connect pubsub ingress: %w", err)
	}
	defer pubsub.Close()

	eng := engine.New(engine.Deps{
		Config:         *cfg,
		Log:            logger,
		Account:        httpClient,
		OrderHandler:   orderHandler,
		Catalogue:      catalogue,
		MarketData:     mdCache,
		Sizer:          sizer,
		OrderStore:     orderStore,
		Orders:         orderRegistry,
		Positions:      positionRegistry,
		Ledger:         txnLedger,
		Lockers:        lockerSvc,
		OrderLister:    httpClient,
		PositionLister: httpClient,
		Events:         publisher,
		OrderUpdates:   orderUpdateStream,
		Trades:         tradeStream,
		Signals:        signals,
		Shutdown:       shutdown,
	})

	if err := eng.Startup(ctx); err != nil {
		return fmt.Errorf("tradeengine: engine startup: %w", err)
	}

	errCh := make(chan error, 3)
	go func() { errCh <- pubsub.Run(ctx) }()

	if webhookServer != nil {
		go func() { errCh <- runWebhook(ctx, cfg.Webhook.Port, webhookServer, logger) }()
	}

	go func() { errCh <- eng.Run(ctx) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			shutdown(err)
		}
		return err
	}
}

// runWebhook serves w until ctx is cancelled, then shuts the listener down
// within a bounded grace period.
func runWebhook(ctx context.Context, port int, w *ingress.Webhook, logger *slog.Logger) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: w.Handler()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tradeengine: webhook listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("tradeengine: webhook server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
