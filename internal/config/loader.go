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
// built-in defaults, applies MMENGINE_* environment variable overrides, and
// returns the final Config. The caller validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from MMENGINE_* variables that
// are set and non-empty. Unparseable values are ignored.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStringSlice(&cfg.Engine.Symbols, "MMENGINE_ENGINE_SYMBOLS")
	setInt(&cfg.Engine.QueueSize, "MMENGINE_ENGINE_QUEUE_SIZE")
	setDuration(&cfg.Engine.SnapshotInterval, "MMENGINE_ENGINE_SNAPSHOT_INTERVAL")
	setDuration(&cfg.Engine.LockTTL, "MMENGINE_ENGINE_LOCK_TTL")
	setStr(&cfg.Engine.FillChannel, "MMENGINE_ENGINE_FILL_CHANNEL")
	setBool(&cfg.Engine.RestoreState, "MMENGINE_ENGINE_RESTORE_STATE")

	// ── Risk ──
	setFloat64(&cfg.Risk.Capital, "MMENGINE_RISK_CAPITAL")
	setFloat64(&cfg.Risk.MaxPosition, "MMENGINE_RISK_MAX_POSITION")
	setFloat64(&cfg.Risk.MaxDailyLoss, "MMENGINE_RISK_MAX_DAILY_LOSS")
	setFloat64(&cfg.Risk.VaRLimit, "MMENGINE_RISK_VAR_LIMIT")
	setFloat64(&cfg.Risk.LeverageLimit, "MMENGINE_RISK_LEVERAGE_LIMIT")
	setFloat64(&cfg.Risk.MaxDrawdown, "MMENGINE_RISK_MAX_DRAWDOWN")

	// ── Market maker ──
	setFloat64(&cfg.MarketMaker.TargetSpreadBps, "MMENGINE_MARKET_MAKER_TARGET_SPREAD_BPS")
	setFloat64(&cfg.MarketMaker.DefaultQuoteSize, "MMENGINE_MARKET_MAKER_DEFAULT_QUOTE_SIZE")
	setFloat64(&cfg.MarketMaker.SkewFactor, "MMENGINE_MARKET_MAKER_SKEW_FACTOR")
	setStr(&cfg.MarketMaker.BreachAction, "MMENGINE_MARKET_MAKER_BREACH_ACTION")

	// ── Backtest ──
	setFloat64(&cfg.Backtest.InitialCapital, "MMENGINE_BACKTEST_INITIAL_CAPITAL")
	setFloat64(&cfg.Backtest.CostBps, "MMENGINE_BACKTEST_COST_BPS")
	setFloat64(&cfg.Backtest.SlippageBps, "MMENGINE_BACKTEST_SLIPPAGE_BPS")
	setInt64(&cfg.Backtest.Seed, "MMENGINE_BACKTEST_SEED")
	setBool(&cfg.Backtest.SkipInvalid, "MMENGINE_BACKTEST_SKIP_INVALID")
	setStr(&cfg.Backtest.InputPath, "MMENGINE_BACKTEST_INPUT_PATH")
	setStr(&cfg.Backtest.InputS3Key, "MMENGINE_BACKTEST_INPUT_S3_KEY")
	setBool(&cfg.Backtest.StoreResults, "MMENGINE_BACKTEST_STORE_RESULTS")
	setBool(&cfg.Backtest.ArchiveResults, "MMENGINE_BACKTEST_ARCHIVE_RESULTS")

	// ── Feed ──
	setStr(&cfg.Feed.Source, "MMENGINE_FEED_SOURCE")
	setStr(&cfg.Feed.WSURL, "MMENGINE_FEED_WS_URL")
	setStr(&cfg.Feed.RedisChannel, "MMENGINE_FEED_REDIS_CHANNEL")
	setStr(&cfg.Feed.RedisStream, "MMENGINE_FEED_REDIS_STREAM")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "MMENGINE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "MMENGINE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MMENGINE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MMENGINE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MMENGINE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MMENGINE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MMENGINE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "MMENGINE_REDIS_KEY_PREFIX")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "MMENGINE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "MMENGINE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MMENGINE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MMENGINE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MMENGINE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MMENGINE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MMENGINE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MMENGINE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MMENGINE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MMENGINE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MMENGINE_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "MMENGINE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MMENGINE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MMENGINE_S3_REGION")
	setStr(&cfg.S3.Bucket, "MMENGINE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MMENGINE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MMENGINE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MMENGINE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MMENGINE_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.ReportPrefix, "MMENGINE_S3_REPORT_PREFIX")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MMENGINE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MMENGINE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MMENGINE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MMENGINE_NOTIFY_EVENTS")
	setInt(&cfg.Notify.AlertLimit, "MMENGINE_NOTIFY_ALERT_LIMIT")
	setDuration(&cfg.Notify.AlertWindow, "MMENGINE_NOTIFY_ALERT_WINDOW")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "MMENGINE_METRICS_ENABLED")
	setStr(&cfg.Metrics.Addr, "MMENGINE_METRICS_ADDR")

	// ── Top-level ──
	setStr(&cfg.Mode, "MMENGINE_MODE")
	setStr(&cfg.LogLevel, "MMENGINE_LOG_LEVEL")
}

// Typed env helpers. Each mutates dst only when key is set and parses.

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
