package config

import (
	"strings"
	"testing"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Broker.Key = "key"
	cfg.Broker.Secret = "secret"
	cfg.Database.Password = "hunter2"
	cfg.Stops["atr14"] = StopConfig{LockerType: "ATR", Multiplier: 2.0}
	cfg.Strategies["breakout"] = Strategy{Locker: "atr14", TrailingSize: 1.0}
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsMissingBrokerCreds(t *testing.T) {
	cfg := validConfig()
	cfg.Broker.Key = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "broker: key") {
		t.Fatalf("Validate() = %v, want error mentioning broker key", err)
	}
}

func TestValidateRejectsUnknownAccountType(t *testing.T) {
	cfg := validConfig()
	cfg.Broker.AccountType = "demo"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "broker: type") {
		t.Fatalf("Validate() = %v, want error mentioning broker type", err)
	}
}

func TestValidateRejectsUnmatchedStrategyLocker(t *testing.T) {
	cfg := validConfig()
	cfg.Strategies["orphan"] = Strategy{Locker: "missing"}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "orphan") {
		t.Fatalf("Validate() = %v, want error mentioning orphan strategy", err)
	}
}

func TestValidateRejectsBadLockerType(t *testing.T) {
	cfg := validConfig()
	cfg.Stops["atr14"] = StopConfig{LockerType: "Trailing", Multiplier: 1.0}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "locker_type") {
		t.Fatalf("Validate() = %v, want error mentioning locker_type", err)
	}
}

func TestApplyBrokerFlagsOverridesConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Broker.Key = "from-file"
	ApplyBrokerFlags(&cfg, "from-flag", "", "live")
	if cfg.Broker.Key != "from-flag" {
		t.Fatalf("Broker.Key = %q, want from-flag", cfg.Broker.Key)
	}
	if cfg.Broker.AccountType != "live" {
		t.Fatalf("Broker.AccountType = %q, want live", cfg.Broker.AccountType)
	}
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := validConfig()
	red := RedactedConfig(&cfg)
	if red.Broker.Secret != "***" {
		t.Fatalf("Broker.Secret = %q, want redacted", red.Broker.Secret)
	}
	if red.Database.Password != "***" {
		t.Fatalf("Database.Password = %q, want redacted", red.Database.Password)
	}
	// Original must be untouched.
	if cfg.Broker.Secret != "secret" {
		t.Fatalf("original Broker.Secret mutated: %q", cfg.Broker.Secret)
	}
}
