package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Exchange: ExchangeConfig{Network: "testnet", APIKey: "k", APISecret: "s"},
		Grid: GridConfig{
			Symbol:       "DOGEUSDT",
			Leverage:     10,
			TotalCapital: 100,
			LowerBound:   0.20,
			UpperBound:   0.25,
			LevelCount:   10,
		},
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
exchange:
  api_key: k
  api_secret: s
grid:
  symbol: DOGEUSDT
  leverage: 10
  total_capital: 100
  lower_bound: 0.20
  upper_bound: 0.25
  level_count: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("expected info log level default, got %q", cfg.Log.Level)
	}
	if cfg.Exchange.Network != "mainnet" {
		t.Fatalf("expected mainnet default, got %q", cfg.Exchange.Network)
	}
	if cfg.Engine.PollInterval != 3*time.Second {
		t.Fatalf("expected 3s poll interval default, got %v", cfg.Engine.PollInterval)
	}
	if cfg.Engine.StopTimeout != 10*time.Second {
		t.Fatalf("expected 10s stop timeout default, got %v", cfg.Engine.StopTimeout)
	}
	if cfg.Feed.URL != "wss://fstream.binance.com/ws" {
		t.Fatalf("unexpected feed url default: %q", cfg.Feed.URL)
	}
	if cfg.Journal.Path == "" {
		t.Fatal("expected journal path default")
	}
}

func TestLoadTestnetFeedDefault(t *testing.T) {
	path := writeConfig(t, `
exchange:
  network: testnet
  api_key: k
  api_secret: s
grid:
  symbol: DOGEUSDT
  leverage: 10
  total_capital: 100
  lower_bound: 0.20
  upper_bound: 0.25
  level_count: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Feed.URL != "wss://stream.binancefuture.com/ws" {
		t.Fatalf("unexpected testnet feed url: %q", cfg.Feed.URL)
	}
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "env-key")
	t.Setenv("BINANCE_API_SECRET", "env-secret")
	cfg := validConfig()
	cfg.Exchange.APIKey = ""
	cfg.Exchange.APISecret = ""
	applyDefaults(cfg)
	if cfg.Exchange.APIKey != "env-key" || cfg.Exchange.APISecret != "env-secret" {
		t.Fatalf("credentials not taken from environment: %+v", cfg.Exchange)
	}
}

func TestInlineCredentialsWinOverEnv(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "env-key")
	cfg := validConfig()
	applyDefaults(cfg)
	if cfg.Exchange.APIKey != "k" {
		t.Fatalf("inline credential overridden: %q", cfg.Exchange.APIKey)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad network", func(c *Config) { c.Exchange.Network = "demo" }},
		{"missing symbol", func(c *Config) { c.Grid.Symbol = "" }},
		{"zero leverage", func(c *Config) { c.Grid.Leverage = 0 }},
		{"zero capital", func(c *Config) { c.Grid.TotalCapital = 0 }},
		{"zero lower bound", func(c *Config) { c.Grid.LowerBound = 0 }},
		{"inverted bounds", func(c *Config) { c.Grid.UpperBound = c.Grid.LowerBound }},
		{"single level", func(c *Config) { c.Grid.LevelCount = 1 }},
		{"timescale without dsn", func(c *Config) { c.Timescale.Enabled = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	cfg := validConfig()
	if err := validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
