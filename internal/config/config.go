// Package config defines the top-level configuration for the trading engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADEBOT_* environment variables.
type Config struct {
	Feed     FeedConfig     `toml:"feed"`
	Risk     RiskConfig     `toml:"risk"`
	Executor ExecutorConfig `toml:"executor"`
	Paper    PaperConfig    `toml:"paper"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// FeedConfig holds market-data connection parameters.
type FeedConfig struct {
	URL              string     `toml:"url"`
	APIKey           string     `toml:"api_key"`
	APISecret        string     `toml:"api_secret"`
	Symbols          []string   `toml:"symbols"`
	HeartbeatTimeout duration   `toml:"heartbeat_timeout"`
	ReconnectDelay   duration   `toml:"reconnect_delay"`
	BarTimeframes    []duration `toml:"bar_timeframes"`
}

// RiskConfig holds pre-trade limits and circuit-breaker thresholds.
type RiskConfig struct {
	MaxOrderSize         float64  `toml:"max_order_size"`
	MaxPositionSize      float64  `toml:"max_position_size"`
	MaxNotionalExposure  float64  `toml:"max_notional_exposure"`
	MaxOpenPositions     int      `toml:"max_open_positions"`
	DailyLossLimit       float64  `toml:"daily_loss_limit"`
	MaxConsecutiveLosses int      `toml:"max_consecutive_losses"`
	MaxDrawdown          float64  `toml:"max_drawdown"`
	BreakerCooldown      duration `toml:"breaker_cooldown"`
	DailyResetHourUTC    int      `toml:"daily_reset_hour_utc"`
}

// ExecutorConfig holds submission, retry, and slicing parameters.
type ExecutorConfig struct {
	MaxSlippageBps float64  `toml:"max_slippage_bps"`
	TwapMinSize    float64  `toml:"twap_min_size"`
	TwapWindow     duration `toml:"twap_window"`
	TwapSlices     int      `toml:"twap_slices"`
	RateLimit      int      `toml:"rate_limit"`
	RateWindow     duration `toml:"rate_window"`
	DedupTTL       duration `toml:"dedup_ttl"`

	Retry    RetryConfig    `toml:"retry"`
	Slippage SlippageConfig `toml:"slippage"`
}

// RetryConfig holds the backoff schedule for transient submission failures.
type RetryConfig struct {
	BaseDelay   duration `toml:"base_delay"`
	Multiplier  float64  `toml:"multiplier"`
	MaxDelay    duration `toml:"max_delay"`
	MaxAttempts int      `toml:"max_attempts"`
	JitterPct   float64  `toml:"jitter_pct"`
}

// SlippageConfig holds the pre-submission cost model parameters.
type SlippageConfig struct {
	BaseSlippageBps      float64            `toml:"base_slippage_bps"`
	VolatilityMultiplier float64            `toml:"volatility_multiplier"`
	SpreadCaptureBps     float64            `toml:"spread_capture_bps"`
	QueuePositionRiskBps float64            `toml:"queue_position_risk_bps"`
	AdverseSelectionBps  float64            `toml:"adverse_selection_bps"`
	AvgDailyVolume       map[string]float64 `toml:"avg_daily_volume"`
}

// PaperConfig holds the simulated venue parameters for paper mode.
type PaperConfig struct {
	StartPrice         float64  `toml:"start_price"`
	StepPct            float64  `toml:"step_pct"`
	Interval           duration `toml:"interval"`
	Seed               int64    `toml:"seed"`
	TransientFailEvery int      `toml:"transient_fail_every"`
	FeeBps             float64  `toml:"fee_bps"`
}

// PostgresConfig holds PostgreSQL connection parameters. Disabled means the
// engine runs without durable order and position history.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// RedisConfig holds Redis connection parameters. Disabled means no external
// signal channel, no price cache, and in-process rate limiting only.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// ServerConfig holds HTTP API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds operator alert channels. Channels with empty settings
// are not constructed.
type NotifyConfig struct {
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	TelegramBotToken  string `toml:"telegram_bot_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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
		Feed: FeedConfig{
			Symbols:          []string{"BTC-USD"},
			HeartbeatTimeout: duration{10 * time.Second},
			ReconnectDelay:   duration{2 * time.Second},
			BarTimeframes:    []duration{{time.Minute}, {5 * time.Minute}},
		},
		Risk: RiskConfig{
			MaxOrderSize:         100,
			MaxPositionSize:      500,
			MaxNotionalExposure:  100_000,
			MaxOpenPositions:     10,
			DailyLossLimit:       5_000,
			MaxConsecutiveLosses: 5,
			MaxDrawdown:          3_000,
			BreakerCooldown:      duration{10 * time.Minute},
			DailyResetHourUTC:    0,
		},
		Executor: ExecutorConfig{
			MaxSlippageBps: 50,
			TwapMinSize:    50,
			TwapWindow:     duration{5 * time.Minute},
			TwapSlices:     10,
			RateLimit:      10,
			RateWindow:     duration{time.Second},
			DedupTTL:       duration{time.Hour},
			Retry: RetryConfig{
				BaseDelay:   duration{500 * time.Millisecond},
				Multiplier:  2,
				MaxDelay:    duration{30 * time.Second},
				MaxAttempts: 4,
				JitterPct:   0.15,
			},
			Slippage: SlippageConfig{
				BaseSlippageBps:      2,
				VolatilityMultiplier: 1,
				SpreadCaptureBps:     1,
				QueuePositionRiskBps: 1,
				AdverseSelectionBps:  1,
				AvgDailyVolume:       map[string]float64{},
			},
		},
		Paper: PaperConfig{
			StartPrice:         100,
			StepPct:            0.0005,
			Interval:           duration{100 * time.Millisecond},
			TransientFailEvery: 0,
			FeeBps:             2,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "tradebot",
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
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   0,
			RateWindow:  duration{time.Second},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade": true,
	"paper": true,
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

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Feed
	if len(c.Feed.Symbols) == 0 {
		errs = append(errs, "feed: at least one symbol is required")
	}
	if strings.ToLower(c.Mode) == "trade" {
		if c.Feed.URL == "" {
			errs = append(errs, "feed: url is required for trade mode")
		}
		if !c.Redis.Enabled {
			errs = append(errs, "redis: must be enabled for trade mode")
		}
	}
	if c.Feed.HeartbeatTimeout.Duration < 0 {
		errs = append(errs, "feed: heartbeat_timeout must not be negative")
	}
	if len(c.Feed.BarTimeframes) == 0 {
		errs = append(errs, "feed: at least one bar timeframe is required")
	}
	for _, tf := range c.Feed.BarTimeframes {
		if tf.Duration <= 0 {
			errs = append(errs, "feed: bar timeframes must be positive")
			break
		}
	}

	// Risk
	if c.Risk.MaxOrderSize <= 0 {
		errs = append(errs, "risk: max_order_size must be > 0")
	}
	if c.Risk.MaxPositionSize <= 0 {
		errs = append(errs, "risk: max_position_size must be > 0")
	}
	if c.Risk.MaxNotionalExposure <= 0 {
		errs = append(errs, "risk: max_notional_exposure must be > 0")
	}
	if c.Risk.MaxOpenPositions < 1 {
		errs = append(errs, "risk: max_open_positions must be >= 1")
	}
	if c.Risk.DailyResetHourUTC < 0 || c.Risk.DailyResetHourUTC > 23 {
		errs = append(errs, fmt.Sprintf("risk: daily_reset_hour_utc must be 0-23, got %d", c.Risk.DailyResetHourUTC))
	}

	// Executor
	if c.Executor.MaxSlippageBps <= 0 {
		errs = append(errs, "executor: max_slippage_bps must be > 0")
	}
	if c.Executor.TwapMinSize > 0 && c.Executor.TwapSlices < 2 {
		errs = append(errs, "executor: twap_slices must be >= 2 when twap_min_size is set")
	}
	if c.Executor.RateLimit < 1 {
		errs = append(errs, "executor: rate_limit must be >= 1")
	}
	if c.Executor.Retry.MaxAttempts < 1 {
		errs = append(errs, "executor: retry.max_attempts must be >= 1")
	}
	if c.Executor.Retry.Multiplier < 1 {
		errs = append(errs, "executor: retry.multiplier must be >= 1")
	}
	if c.Executor.Retry.JitterPct < 0 || c.Executor.Retry.JitterPct >= 1 {
		errs = append(errs, "executor: retry.jitter_pct must be in [0, 1)")
	}
	if c.Executor.Slippage.BaseSlippageBps <= 0 {
		errs = append(errs, "executor: slippage.base_slippage_bps must be > 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be 0..pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if (c.Notify.TelegramBotToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_bot_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// BarTimeframes returns the configured bar timeframes as plain durations.
func (c *Config) BarTimeframes() []time.Duration {
	out := make([]time.Duration, 0, len(c.Feed.BarTimeframes))
	for _, tf := range c.Feed.BarTimeframes {
		out = append(out, tf.Duration)
	}
	return out
}
