package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Grid      GridConfig      `yaml:"grid"`
	Engine    EngineConfig    `yaml:"engine"`
	Journal   JournalConfig   `yaml:"journal"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Feed      FeedConfig      `yaml:"feed"`
	Timescale TimescaleConfig `yaml:"timescale"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type ExchangeConfig struct {
	// Network selects the production or test environment: "mainnet" or "testnet".
	Network string `yaml:"network"`
	// Credentials may be set inline or via BINANCE_API_KEY / BINANCE_API_SECRET.
	APIKey    string        `yaml:"api_key"`
	APISecret string        `yaml:"api_secret"`
	Timeout   time.Duration `yaml:"timeout"`
}

type GridConfig struct {
	Symbol       string  `yaml:"symbol"`
	Leverage     int     `yaml:"leverage"`
	TotalCapital float64 `yaml:"total_capital"`
	LowerBound   float64 `yaml:"lower_bound"`
	UpperBound   float64 `yaml:"upper_bound"`
	LevelCount   int     `yaml:"level_count"`
}

type EngineConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type FeedConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	StaleAfter     time.Duration `yaml:"stale_after"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Exchange.Network == "" {
		cfg.Exchange.Network = "mainnet"
	}
	if cfg.Exchange.Timeout == 0 {
		cfg.Exchange.Timeout = 10 * time.Second
	}
	if cfg.Exchange.APIKey == "" {
		cfg.Exchange.APIKey = strings.TrimSpace(os.Getenv("BINANCE_API_KEY"))
	}
	if cfg.Exchange.APISecret == "" {
		cfg.Exchange.APISecret = strings.TrimSpace(os.Getenv("BINANCE_API_SECRET"))
	}
	if cfg.Engine.PollInterval == 0 {
		cfg.Engine.PollInterval = 3 * time.Second
	}
	if cfg.Engine.StopTimeout == 0 {
		cfg.Engine.StopTimeout = 10 * time.Second
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = "data/bn-grid-bot.db"
	}
	if cfg.Feed.URL == "" {
		if cfg.Exchange.Network == "testnet" {
			cfg.Feed.URL = "wss://stream.binancefuture.com/ws"
		} else {
			cfg.Feed.URL = "wss://fstream.binance.com/ws"
		}
	}
	if cfg.Feed.ReconnectDelay == 0 {
		cfg.Feed.ReconnectDelay = 3 * time.Second
	}
	if cfg.Feed.StaleAfter == 0 {
		cfg.Feed.StaleAfter = 10 * time.Second
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
}

func validate(cfg *Config) error {
	if cfg.Exchange.Network != "mainnet" && cfg.Exchange.Network != "testnet" {
		return errors.New("exchange.network must be mainnet or testnet")
	}
	if cfg.Grid.Symbol == "" {
		return errors.New("grid.symbol is required")
	}
	if cfg.Grid.Leverage < 1 {
		return errors.New("grid.leverage must be >= 1")
	}
	if cfg.Grid.TotalCapital <= 0 {
		return errors.New("grid.total_capital must be > 0")
	}
	if cfg.Grid.LowerBound <= 0 {
		return errors.New("grid.lower_bound must be > 0")
	}
	if cfg.Grid.UpperBound <= cfg.Grid.LowerBound {
		return errors.New("grid.upper_bound must be greater than grid.lower_bound")
	}
	if cfg.Grid.LevelCount < 2 {
		return errors.New("grid.level_count must be >= 2")
	}
	if cfg.Timescale.Enabled && cfg.Timescale.DSN == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}
