package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mmengine/internal/backtest"
	"github.com/alanyoungcy/mmengine/internal/marketmaker"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsMatchComponents(t *testing.T) {
	cfg := Defaults()

	mm := cfg.MarketMakerEngineConfig()
	want := marketmaker.DefaultConfig()
	assert.Equal(t, want, mm)

	bt := cfg.BacktestEngineConfig()
	assert.Equal(t, backtest.DefaultConfig(), bt)

	assert.Equal(t, 1_000_000.0, cfg.BacktestMarketMakerConfig().Risk.Capital)
	assert.Equal(t, want.Risk.Capital, mm.Risk.Capital)
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
mode = "live"
log_level = "debug"

[engine]
symbols = ["ES", "NQ"]
snapshot_interval = "10s"

[market_maker]
target_spread_bps = 12
breach_action = "liquidate"

[redis]
enabled = true
password = "from-file"
`)
	t.Setenv("MMENGINE_REDIS_PASSWORD", "from-env")
	t.Setenv("MMENGINE_RISK_CAPITAL", "2500000")
	t.Setenv("MMENGINE_FEED_SOURCE", "redis")
	t.Setenv("MMENGINE_ENGINE_QUEUE_SIZE", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "live", cfg.Mode)
	assert.Equal(t, []string{"ES", "NQ"}, cfg.Engine.Symbols)
	assert.Equal(t, 10*time.Second, cfg.Engine.SnapshotInterval.Duration)
	assert.Equal(t, 15*time.Second, cfg.Engine.LockTTL.Duration)
	assert.Equal(t, 1024, cfg.Engine.QueueSize)
	assert.Equal(t, 12.0, cfg.MarketMaker.TargetSpreadBps)
	assert.Equal(t, "from-env", cfg.Redis.Password)
	assert.Equal(t, 2_500_000.0, cfg.Risk.Capital)
	assert.Equal(t, "redis", cfg.Feed.Source)

	mm := cfg.MarketMakerEngineConfig()
	assert.Equal(t, marketmaker.BreachLiquidate, mm.Quote.BreachAction)
	assert.Equal(t, 2_500_000.0, mm.Risk.Capital)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	backtestCfg := func() Config {
		cfg := Defaults()
		cfg.Backtest.InputPath = "ticks.jsonl"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   []string
	}{
		{
			name:   "defaults with input",
			mutate: func(*Config) {},
		},
		{
			name:   "bad mode and level",
			mutate: func(c *Config) { c.Mode = "paper"; c.LogLevel = "trace" },
			want:   []string{`unknown mode "paper"`, `unknown log_level "trace"`},
		},
		{
			name:   "no input",
			mutate: func(c *Config) { c.Backtest.InputPath = "" },
			want:   []string{"exactly one of input_path or input_s3_key"},
		},
		{
			name: "sinks without backends",
			mutate: func(c *Config) {
				c.Backtest.StoreResults = true
				c.Backtest.ArchiveResults = true
			},
			want: []string{"store_results requires postgres.enabled", "archive_results requires s3.enabled"},
		},
		{
			name:   "bad spread bounds",
			mutate: func(c *Config) { c.MarketMaker.MinSpreadBps = 100 },
			want:   []string{"marketmaker"},
		},
		{
			name:   "bad breach action",
			mutate: func(c *Config) { c.MarketMaker.BreachAction = "panic" },
			want:   []string{"marketmaker"},
		},
		{
			name: "live without symbols or redis",
			mutate: func(c *Config) {
				c.Mode = "live"
				c.Feed.Source = "carrier-pigeon"
			},
			want: []string{"symbols must not be empty", "redis: must be enabled", `unknown source "carrier-pigeon"`},
		},
		{
			name:   "telegram half configured",
			mutate: func(c *Config) { c.Notify.TelegramToken = "t" },
			want:   []string{"telegram_token and telegram_chat_id"},
		},
		{
			name: "postgres pool",
			mutate: func(c *Config) {
				c.Postgres.Enabled = true
				c.Postgres.PoolMinConns = 20
			},
			want: []string{"pool_min_conns must not exceed"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := backtestCfg()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if len(tc.want) == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, w := range tc.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.Password = "redis-secret"
	cfg.Postgres.DSN = "postgres://u:p@h/db"
	cfg.S3.AccessKey = "AKIA"
	cfg.S3.SecretKey = "shh"
	cfg.Notify.TelegramToken = "tok"
	cfg.Engine.Symbols = []string{"ES"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Redis.Password)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Equal(t, "***", out.S3.AccessKey)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Empty(t, out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Postgres.Password)

	out.Engine.Symbols[0] = "NQ"
	assert.Equal(t, "redis-secret", cfg.Redis.Password)
	assert.Equal(t, "ES", cfg.Engine.Symbols[0])
}

func TestDurationText(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(b))

	require.Error(t, d.UnmarshalText([]byte("soon")))
}
