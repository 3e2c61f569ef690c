// Package config defines the top-level configuration for the options
// simulator and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by OPTSIM_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Exit     ExitConfig     `toml:"exit"`
	Risk     RiskConfig     `toml:"risk"`
	Feed     FeedConfig     `toml:"feed"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the paper-trading account and auto-exit parameters.
type EngineConfig struct {
	InitialBalance    float64 `toml:"initial_balance"`
	AutoExit          bool    `toml:"auto_exit"`
	MinExitConfidence float64 `toml:"min_exit_confidence"`
}

// ExitConfig holds the thresholds for the layered exit conditions attached to
// every new position.
type ExitConfig struct {
	ProfitTargetPct    float64 `toml:"profit_target_pct"`
	StopLossPct        float64 `toml:"stop_loss_pct"`
	TrailingStopPct    float64 `toml:"trailing_stop_pct"`
	TimeDecayMinDTE    float64 `toml:"time_decay_min_dte"`
	ExpirationWindowHr float64 `toml:"expiration_window_hours"`
}

// RiskConfig holds the sizing governor limits.
type RiskConfig struct {
	MaxPortfolioHeat    float64 `toml:"max_portfolio_heat"`
	MaxPositionHeat     float64 `toml:"max_position_heat"`
	MaxTickerExposure   float64 `toml:"max_ticker_exposure"`
	MinPositionSize     float64 `toml:"min_position_size"`
	MaxConsecutiveLoss  int     `toml:"max_consecutive_losses"`
	DrawdownDefensive   float64 `toml:"drawdown_defensive"`
	EmergencyHeat       float64 `toml:"emergency_heat"`
	DefensiveSizeFactor float64 `toml:"defensive_size_factor"`
}

// FeedConfig holds market-data feed parameters.
type FeedConfig struct {
	WsURL         string   `toml:"ws_url"`
	Tickers       []string `toml:"tickers"`
	SweepInterval duration `toml:"sweep_interval"`
}

// PostgresConfig holds PostgreSQL connection parameters for the closed-trade
// archive and audit log. Leave DSN and Host empty to run without persistence.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for session
// archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP API server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds exit-alert delivery parameters. Alerts are disabled when
// the Telegram credentials are empty.
type NotifyConfig struct {
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	Events         []string `toml:"events"`
}

// duration wraps time.Duration so TOML can decode strings like "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
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
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			InitialBalance:    100_000,
			AutoExit:          true,
			MinExitConfidence: 0.8,
		},
		Exit: ExitConfig{
			ProfitTargetPct:    50,
			StopLossPct:        50,
			TrailingStopPct:    20,
			TimeDecayMinDTE:    5,
			ExpirationWindowHr: 4,
		},
		Risk: RiskConfig{
			MaxPortfolioHeat:    0.20,
			MaxPositionHeat:     0.10,
			MaxTickerExposure:   0.15,
			MinPositionSize:     500,
			MaxConsecutiveLoss:  5,
			DrawdownDefensive:   0.15,
			EmergencyHeat:       0.40,
			DefensiveSizeFactor: 0.5,
		},
		Feed: FeedConfig{
			WsURL:         "",
			Tickers:       []string{},
			SweepInterval: duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "",
			Port:          5432,
			Database:      "optionsim",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "optionsim-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"exit_signal"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.InitialBalance <= 0 {
		errs = append(errs, fmt.Sprintf("engine: initial_balance must be positive, got %g", c.Engine.InitialBalance))
	}
	if c.Engine.MinExitConfidence < 0 || c.Engine.MinExitConfidence > 1 {
		errs = append(errs, fmt.Sprintf("engine: min_exit_confidence must be in [0,1], got %g", c.Engine.MinExitConfidence))
	}

	// Exit
	if c.Exit.ProfitTargetPct <= 0 {
		errs = append(errs, "exit: profit_target_pct must be positive")
	}
	if c.Exit.StopLossPct <= 0 {
		errs = append(errs, "exit: stop_loss_pct must be positive")
	}
	if c.Exit.TrailingStopPct <= 0 {
		errs = append(errs, "exit: trailing_stop_pct must be positive")
	}
	if c.Exit.ExpirationWindowHr < 0 {
		errs = append(errs, "exit: expiration_window_hours must not be negative")
	}

	// Risk limits are fractions of balance.
	if c.Risk.MaxPortfolioHeat <= 0 || c.Risk.MaxPortfolioHeat > 1 {
		errs = append(errs, fmt.Sprintf("risk: max_portfolio_heat must be in (0,1], got %g", c.Risk.MaxPortfolioHeat))
	}
	if c.Risk.MaxPositionHeat <= 0 || c.Risk.MaxPositionHeat > 1 {
		errs = append(errs, fmt.Sprintf("risk: max_position_heat must be in (0,1], got %g", c.Risk.MaxPositionHeat))
	}
	if c.Risk.MaxTickerExposure <= 0 || c.Risk.MaxTickerExposure > 1 {
		errs = append(errs, fmt.Sprintf("risk: max_ticker_exposure must be in (0,1], got %g", c.Risk.MaxTickerExposure))
	}
	if c.Risk.EmergencyHeat < c.Risk.MaxPortfolioHeat {
		errs = append(errs, "risk: emergency_heat must be at least max_portfolio_heat")
	}
	if c.Risk.MinPositionSize < 0 {
		errs = append(errs, "risk: min_position_size must not be negative")
	}
	if c.Risk.MaxConsecutiveLoss < 1 {
		errs = append(errs, "risk: max_consecutive_losses must be >= 1")
	}
	if c.Risk.DefensiveSizeFactor <= 0 || c.Risk.DefensiveSizeFactor > 1 {
		errs = append(errs, fmt.Sprintf("risk: defensive_size_factor must be in (0,1], got %g", c.Risk.DefensiveSizeFactor))
	}

	// Feed
	if c.Feed.WsURL != "" && len(c.Feed.Tickers) == 0 {
		errs = append(errs, "feed: tickers must not be empty when ws_url is set")
	}
	if c.Feed.SweepInterval.Duration < 0 {
		errs = append(errs, "feed: sweep_interval must not be negative")
	}

	// Postgres settings are only checked when persistence is configured.
	if c.PostgresEnabled() && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must not be negative")
	}

	// Redis
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when enabled")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	// Both Telegram fields must be set together, or both left empty.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// PostgresEnabled reports whether a Postgres connection is configured.
func (c *Config) PostgresEnabled() bool {
	return strings.TrimSpace(c.Postgres.DSN) != "" || c.Postgres.Host != ""
}
