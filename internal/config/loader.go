package config

import (
	"fmt"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads a JSON configuration file at path, merges it on top of the
// built-in defaults, applies the DB_PASSWORD environment fallback, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load (and after applying any
// command-line flag overrides).
func Load(path string) (*Config, error) {
	// Load .env file if present (silently ignore if missing), same as the
	// teacher: secrets can be injected without touching the JSON file.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	cfg := Defaults()
	setViperDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// setViperDefaults seeds viper with the built-in defaults so that fields
// absent from the JSON file still end up populated after Unmarshal.
func setViperDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("broker.base_url", cfg.Broker.BaseURL)
	v.SetDefault("broker.stream_url", cfg.Broker.StreamURL)
	v.SetDefault("broker.type", cfg.Broker.AccountType)

	v.SetDefault("database.host", cfg.Database.Host)
	v.SetDefault("database.port", cfg.Database.Port)
	v.SetDefault("database.name", cfg.Database.Database)
	v.SetDefault("database.user", cfg.Database.User)
	v.SetDefault("database.ssl_mode", cfg.Database.SSLMode)
	v.SetDefault("database.pool_max_conns", cfg.Database.PoolMaxConns)
	v.SetDefault("database.pool_min_conns", cfg.Database.PoolMinConns)
	v.SetDefault("database.run_migrations", cfg.Database.RunMigrations)

	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("redis.channel", cfg.Redis.Channel)

	v.SetDefault("webhook.enabled", cfg.Webhook.Enabled)
	v.SetDefault("webhook.port", cfg.Webhook.Port)

	v.SetDefault("market_data.stale_after", cfg.MarketData.StaleAfter.String())

	v.SetDefault("risk_sizer.risk_per_trade", cfg.RiskSizer.RiskPerTrade)
	v.SetDefault("risk_sizer.default_atr_multiplier", cfg.RiskSizer.DefaultATRMult)

	v.SetDefault("log_level", cfg.LogLevel)
}

// applyEnvOverrides applies the one environment override spec.md §6 names
// explicitly: DB_PASSWORD, consulted when database.password is absent from
// the config file.
func applyEnvOverrides(cfg *Config) {
	if cfg.Database.Password == "" {
		if v := os.Getenv("DB_PASSWORD"); v != "" {
			cfg.Database.Password = v
		}
	}
}

// ApplyBrokerFlags overrides the broker credentials and account type parsed
// from the config file with command-line flag values, when non-empty. This
// lets --key/-k, --secret/-s, and --type/-a (cmd/tradeengine) take priority
// over whatever the JSON file or .env supplied.
func ApplyBrokerFlags(cfg *Config, key, secret, accountType string) {
	if key != "" {
		cfg.Broker.Key = key
	}
	if secret != "" {
		cfg.Broker.Secret = secret
	}
	if accountType != "" {
		cfg.Broker.AccountType = accountType
	}
}
