package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies OPTSIM_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known OPTSIM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setFloat64(&cfg.Engine.InitialBalance, "OPTSIM_ENGINE_INITIAL_BALANCE")
	setBool(&cfg.Engine.AutoExit, "OPTSIM_ENGINE_AUTO_EXIT")
	setFloat64(&cfg.Engine.MinExitConfidence, "OPTSIM_ENGINE_MIN_EXIT_CONFIDENCE")

	// ── Exit ──
	setFloat64(&cfg.Exit.ProfitTargetPct, "OPTSIM_EXIT_PROFIT_TARGET_PCT")
	setFloat64(&cfg.Exit.StopLossPct, "OPTSIM_EXIT_STOP_LOSS_PCT")
	setFloat64(&cfg.Exit.TrailingStopPct, "OPTSIM_EXIT_TRAILING_STOP_PCT")
	setFloat64(&cfg.Exit.TimeDecayMinDTE, "OPTSIM_EXIT_TIME_DECAY_MIN_DTE")
	setFloat64(&cfg.Exit.ExpirationWindowHr, "OPTSIM_EXIT_EXPIRATION_WINDOW_HOURS")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxPortfolioHeat, "OPTSIM_RISK_MAX_PORTFOLIO_HEAT")
	setFloat64(&cfg.Risk.MaxPositionHeat, "OPTSIM_RISK_MAX_POSITION_HEAT")
	setFloat64(&cfg.Risk.MaxTickerExposure, "OPTSIM_RISK_MAX_TICKER_EXPOSURE")
	setFloat64(&cfg.Risk.MinPositionSize, "OPTSIM_RISK_MIN_POSITION_SIZE")
	setInt(&cfg.Risk.MaxConsecutiveLoss, "OPTSIM_RISK_MAX_CONSECUTIVE_LOSSES")
	setFloat64(&cfg.Risk.DrawdownDefensive, "OPTSIM_RISK_DRAWDOWN_DEFENSIVE")
	setFloat64(&cfg.Risk.EmergencyHeat, "OPTSIM_RISK_EMERGENCY_HEAT")
	setFloat64(&cfg.Risk.DefensiveSizeFactor, "OPTSIM_RISK_DEFENSIVE_SIZE_FACTOR")

	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "OPTSIM_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Tickers, "OPTSIM_FEED_TICKERS")
	setDuration(&cfg.Feed.SweepInterval, "OPTSIM_FEED_SWEEP_INTERVAL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "OPTSIM_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "OPTSIM_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "OPTSIM_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "OPTSIM_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "OPTSIM_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "OPTSIM_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "OPTSIM_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "OPTSIM_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "OPTSIM_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "OPTSIM_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "OPTSIM_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "OPTSIM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OPTSIM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OPTSIM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "OPTSIM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "OPTSIM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "OPTSIM_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "OPTSIM_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "OPTSIM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "OPTSIM_S3_REGION")
	setStr(&cfg.S3.Bucket, "OPTSIM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "OPTSIM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "OPTSIM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "OPTSIM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "OPTSIM_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "OPTSIM_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "OPTSIM_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "OPTSIM_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "OPTSIM_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "OPTSIM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "OPTSIM_NOTIFY_TELEGRAM_CHAT_ID")
	setStringSlice(&cfg.Notify.Events, "OPTSIM_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "OPTSIM_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
