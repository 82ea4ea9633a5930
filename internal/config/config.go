// Package config defines the top-level configuration for the trade-lifecycle
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// JSON file; the only environment variable consulted is DB_PASSWORD, as a
// fallback for an absent database password.
type Config struct {
	Broker     BrokerConfig            `mapstructure:"broker"`
	Database   DatabaseConfig          `mapstructure:"database"`
	Redis      RedisConfig             `mapstructure:"redis"`
	Webhook    WebhookConfig           `mapstructure:"webhook"`
	MarketData MarketDataConfig        `mapstructure:"market_data"`
	RiskSizer  RiskSizerConfig         `mapstructure:"risk_sizer"`
	Strategies map[string]Strategy     `mapstructure:"strategies"`
	Stops      map[string]StopConfig   `mapstructure:"stops"`
	LogLevel   string                  `mapstructure:"log_level"`
}

// BrokerConfig holds the equities broker's REST/WS endpoints. Key, Secret,
// and AccountType are ordinarily supplied on the command line
// (--key/-k, --secret/-s, --type/-a) rather than the JSON file; the fields
// here exist so a config file can supply them too and the flags override.
type BrokerConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	StreamURL   string `mapstructure:"stream_url"`
	Key         string `mapstructure:"key"`
	Secret      string `mapstructure:"secret"`
	AccountType string `mapstructure:"type"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `mapstructure:"dsn"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Database      string `mapstructure:"name"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	SSLMode       string `mapstructure:"ssl_mode"`
	PoolMaxConns  int    `mapstructure:"pool_max_conns"`
	PoolMinConns  int    `mapstructure:"pool_min_conns"`
	RunMigrations bool   `mapstructure:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the Pub/Sub signal
// ingress channel.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// WebhookConfig holds the HTTP webhook ingress parameters.
type WebhookConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// MarketDataConfig holds parameters for the Market Data Cache's staleness
// check.
type MarketDataConfig struct {
	StaleAfter duration `mapstructure:"stale_after"`
}

// RiskSizerConfig holds the Risk Sizer's fixed parameters.
type RiskSizerConfig struct {
	RiskPerTrade   float64 `mapstructure:"risk_per_trade"`
	DefaultATRMult float64 `mapstructure:"default_atr_multiplier"`
}

// Strategy describes one named strategy's entry parameters: which locker
// config it uses and the trailing size it requests from the Risk Sizer.
type Strategy struct {
	Locker       string  `mapstructure:"locker"`
	TrailingSize float64 `mapstructure:"trailing_size"`
}

// StopConfig describes one named locker configuration.
type StopConfig struct {
	LockerType string  `mapstructure:"locker_type"` // "Percent" or "ATR"
	Multiplier float64 `mapstructure:"multiplier"`
}

// duration is a wrapper around time.Duration that supports JSON/env string
// decoding (e.g. "5s", "1m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so viper's mapstructure
// hook can parse duration strings like "5s" or "1m".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Broker: BrokerConfig{
			BaseURL:     "https://paper-api.example-broker.com",
			StreamURL:   "wss://stream.example-broker.com",
			AccountType: "paper",
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradeengine",
			User:          "tradeengine",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			DB:      0,
			Channel: "tradeengine:signals",
		},
		Webhook: WebhookConfig{
			Enabled: true,
			Port:    8090,
		},
		MarketData: MarketDataConfig{
			StaleAfter: duration{5 * time.Second},
		},
		RiskSizer: RiskSizerConfig{
			RiskPerTrade:   0.02,
			DefaultATRMult: 2.0,
		},
		Strategies: map[string]Strategy{},
		Stops:      map[string]StopConfig{},
		LogLevel:   "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validAccountTypes = map[string]bool{
	"paper": true,
	"live":  true,
}

var validLockerTypes = map[string]bool{
	"Percent": true,
	"ATR":     true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Broker.BaseURL == "" {
		errs = append(errs, "broker: base_url must not be empty")
	}
	if c.Broker.StreamURL == "" {
		errs = append(errs, "broker: stream_url must not be empty")
	}
	if !validAccountTypes[c.Broker.AccountType] {
		errs = append(errs, fmt.Sprintf("broker: type must be paper or live, got %q", c.Broker.AccountType))
	}
	if c.Broker.Key == "" {
		errs = append(errs, "broker: key must be set (via --key/-k or config)")
	}
	if c.Broker.Secret == "" {
		errs = append(errs, "broker: secret must be set (via --secret/-s or config)")
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: name must not be empty")
		}
		if c.Database.Password == "" {
			errs = append(errs, "database: password must not be empty (or set DB_PASSWORD)")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.Channel == "" {
		errs = append(errs, "redis: channel must not be empty")
	}

	if c.Webhook.Enabled && (c.Webhook.Port <= 0 || c.Webhook.Port > 65535) {
		errs = append(errs, fmt.Sprintf("webhook: port must be 1-65535, got %d", c.Webhook.Port))
	}

	if c.RiskSizer.RiskPerTrade <= 0 {
		errs = append(errs, "risk_sizer: risk_per_trade must be > 0")
	}

	for name, stop := range c.Stops {
		if !validLockerTypes[stop.LockerType] {
			errs = append(errs, fmt.Sprintf("stops[%s]: locker_type must be Percent or ATR, got %q", name, stop.LockerType))
		}
		if stop.Multiplier <= 0 {
			errs = append(errs, fmt.Sprintf("stops[%s]: multiplier must be > 0", name))
		}
	}

	for name, strat := range c.Strategies {
		if strat.Locker == "" {
			continue
		}
		if _, ok := c.Stops[strat.Locker]; !ok {
			errs = append(errs, fmt.Sprintf("strategies[%s]: locker %q has no matching entry under stops", name, strat.Locker))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
