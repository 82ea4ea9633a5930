package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Broker = cfg.Broker
	redact(&out.Broker.Key)
	redact(&out.Broker.Secret)

	out.Database = cfg.Database
	redact(&out.Database.DSN)
	redact(&out.Database.Password)

	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// Copy maps so mutations to the redacted copy do not affect the original.
	if cfg.Strategies != nil {
		out.Strategies = make(map[string]Strategy, len(cfg.Strategies))
		for k, v := range cfg.Strategies {
			out.Strategies[k] = v
		}
	}
	if cfg.Stops != nil {
		out.Stops = make(map[string]StopConfig, len(cfg.Stops))
		for k, v := range cfg.Stops {
			out.Stops[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
