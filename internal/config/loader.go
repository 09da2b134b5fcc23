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
// built-in defaults, applies TRADEBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. An empty path skips the
// file and uses defaults plus environment overrides only.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setStr(&cfg.Feed.URL, "TRADEBOT_FEED_URL")
	setStr(&cfg.Feed.APIKey, "TRADEBOT_FEED_API_KEY")
	setStr(&cfg.Feed.APISecret, "TRADEBOT_FEED_API_SECRET")
	setStringSlice(&cfg.Feed.Symbols, "TRADEBOT_FEED_SYMBOLS")
	setDuration(&cfg.Feed.HeartbeatTimeout, "TRADEBOT_FEED_HEARTBEAT_TIMEOUT")
	setDuration(&cfg.Feed.ReconnectDelay, "TRADEBOT_FEED_RECONNECT_DELAY")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxOrderSize, "TRADEBOT_RISK_MAX_ORDER_SIZE")
	setFloat64(&cfg.Risk.MaxPositionSize, "TRADEBOT_RISK_MAX_POSITION_SIZE")
	setFloat64(&cfg.Risk.MaxNotionalExposure, "TRADEBOT_RISK_MAX_NOTIONAL_EXPOSURE")
	setInt(&cfg.Risk.MaxOpenPositions, "TRADEBOT_RISK_MAX_OPEN_POSITIONS")
	setFloat64(&cfg.Risk.DailyLossLimit, "TRADEBOT_RISK_DAILY_LOSS_LIMIT")
	setInt(&cfg.Risk.MaxConsecutiveLosses, "TRADEBOT_RISK_MAX_CONSECUTIVE_LOSSES")
	setFloat64(&cfg.Risk.MaxDrawdown, "TRADEBOT_RISK_MAX_DRAWDOWN")
	setDuration(&cfg.Risk.BreakerCooldown, "TRADEBOT_RISK_BREAKER_COOLDOWN")
	setInt(&cfg.Risk.DailyResetHourUTC, "TRADEBOT_RISK_DAILY_RESET_HOUR_UTC")

	// ── Executor ──
	setFloat64(&cfg.Executor.MaxSlippageBps, "TRADEBOT_EXECUTOR_MAX_SLIPPAGE_BPS")
	setFloat64(&cfg.Executor.TwapMinSize, "TRADEBOT_EXECUTOR_TWAP_MIN_SIZE")
	setDuration(&cfg.Executor.TwapWindow, "TRADEBOT_EXECUTOR_TWAP_WINDOW")
	setInt(&cfg.Executor.TwapSlices, "TRADEBOT_EXECUTOR_TWAP_SLICES")
	setInt(&cfg.Executor.RateLimit, "TRADEBOT_EXECUTOR_RATE_LIMIT")
	setDuration(&cfg.Executor.RateWindow, "TRADEBOT_EXECUTOR_RATE_WINDOW")
	setDuration(&cfg.Executor.DedupTTL, "TRADEBOT_EXECUTOR_DEDUP_TTL")
	setDuration(&cfg.Executor.Retry.BaseDelay, "TRADEBOT_EXECUTOR_RETRY_BASE_DELAY")
	setFloat64(&cfg.Executor.Retry.Multiplier, "TRADEBOT_EXECUTOR_RETRY_MULTIPLIER")
	setDuration(&cfg.Executor.Retry.MaxDelay, "TRADEBOT_EXECUTOR_RETRY_MAX_DELAY")
	setInt(&cfg.Executor.Retry.MaxAttempts, "TRADEBOT_EXECUTOR_RETRY_MAX_ATTEMPTS")
	setFloat64(&cfg.Executor.Retry.JitterPct, "TRADEBOT_EXECUTOR_RETRY_JITTER_PCT")

	// ── Paper ──
	setFloat64(&cfg.Paper.StartPrice, "TRADEBOT_PAPER_START_PRICE")
	setFloat64(&cfg.Paper.StepPct, "TRADEBOT_PAPER_STEP_PCT")
	setDuration(&cfg.Paper.Interval, "TRADEBOT_PAPER_INTERVAL")
	setInt64(&cfg.Paper.Seed, "TRADEBOT_PAPER_SEED")
	setInt(&cfg.Paper.TransientFailEvery, "TRADEBOT_PAPER_TRANSIENT_FAIL_EVERY")
	setFloat64(&cfg.Paper.FeeBps, "TRADEBOT_PAPER_FEE_BPS")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "TRADEBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "TRADEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRADEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADEBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADEBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADEBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRADEBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRADEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADEBOT_REDIS_TLS_ENABLED")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADEBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADEBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADEBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TRADEBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "TRADEBOT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "TRADEBOT_SERVER_RATE_WINDOW")

	setStr(&cfg.Notify.DiscordWebhookURL, "TRADEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.TelegramBotToken, "TRADEBOT_NOTIFY_TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADEBOT_NOTIFY_TELEGRAM_CHAT_ID")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADEBOT_MODE")
	setStr(&cfg.LogLevel, "TRADEBOT_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
