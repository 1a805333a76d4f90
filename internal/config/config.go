// Package config defines the engine configuration, its defaults and
// validation, and converts it into component configurations.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/mmengine/internal/backtest"
	"github.com/alanyoungcy/mmengine/internal/marketmaker"
	"github.com/alanyoungcy/mmengine/internal/orderbook"
	"github.com/alanyoungcy/mmengine/internal/risk"
	"github.com/alanyoungcy/mmengine/internal/volatility"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by MMENGINE_* environment variables.
type Config struct {
	Engine      EngineConfig      `toml:"engine"`
	Book        BookConfig        `toml:"book"`
	Volatility  VolatilityConfig  `toml:"volatility"`
	Risk        RiskConfig        `toml:"risk"`
	MarketMaker MarketMakerConfig `toml:"market_maker"`
	Backtest    BacktestConfig    `toml:"backtest"`
	Feed        FeedConfig        `toml:"feed"`
	Redis       RedisConfig       `toml:"redis"`
	Postgres    PostgresConfig    `toml:"postgres"`
	S3          S3Config          `toml:"s3"`
	Notify      NotifyConfig      `toml:"notify"`
	Metrics     MetricsConfig     `toml:"metrics"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// EngineConfig controls the live runtime.
type EngineConfig struct {
	Symbols []string `toml:"symbols"`
	// QueueSize is the per-symbol tick buffer; ticks beyond it are dropped.
	QueueSize          int      `toml:"queue_size"`
	SnapshotInterval   duration `toml:"snapshot_interval"`
	LockTTL            duration `toml:"lock_ttl"`
	QuoteChannelPrefix string   `toml:"quote_channel_prefix"`
	QuoteStream        string   `toml:"quote_stream"`
	FillChannel        string   `toml:"fill_channel"`
	RestoreState       bool     `toml:"restore_state"`
}

// BookConfig holds order book depth synthesis parameters.
type BookConfig struct {
	DepthLevels int     `toml:"depth_levels"`
	TickSize    float64 `toml:"tick_size"`
	DepthDecay  float64 `toml:"depth_decay"`
}

// VolatilityConfig holds the EWMA/GARCH estimator parameters.
type VolatilityConfig struct {
	EWMADecay            float64 `toml:"ewma_decay"`
	GARCHOmega           float64 `toml:"garch_omega"`
	GARCHAlpha           float64 `toml:"garch_alpha"`
	GARCHBeta            float64 `toml:"garch_beta"`
	AnnualizationFactor  float64 `toml:"annualization_factor"`
	EWMAWeight           float64 `toml:"ewma_weight"`
	RegimeLow            float64 `toml:"regime_low"`
	RegimeNormal         float64 `toml:"regime_normal"`
	RegimeHigh           float64 `toml:"regime_high"`
	HistorySize          int     `toml:"history_size"`
	ClusteringMinReturns int     `toml:"clustering_min_returns"`
}

// RiskConfig holds capital and limits.
type RiskConfig struct {
	Capital            float64 `toml:"capital"`
	MaxPosition        float64 `toml:"max_position"`
	MaxDailyLoss       float64 `toml:"max_daily_loss"`
	VaRLimit           float64 `toml:"var_limit"`
	LeverageLimit      float64 `toml:"leverage_limit"`
	GrossExposureLimit float64 `toml:"gross_exposure_limit"`
	NetExposureLimit   float64 `toml:"net_exposure_limit"`
	ConcentrationLimit float64 `toml:"concentration_limit"`
	MaxDrawdown        float64 `toml:"max_drawdown"`
	MaxRiskScore       float64 `toml:"max_risk_score"`
	MinVaRSamples      int     `toml:"min_var_samples"`
}

// MarketMakerConfig holds quoting policy parameters.
type MarketMakerConfig struct {
	TargetSpreadBps            float64 `toml:"target_spread_bps"`
	MinSpreadBps               float64 `toml:"min_spread_bps"`
	MaxSpreadBps               float64 `toml:"max_spread_bps"`
	DefaultQuoteSize           float64 `toml:"default_quote_size"`
	SkewFactor                 float64 `toml:"skew_factor"`
	MaxInventoryDeviation      float64 `toml:"max_inventory_deviation"`
	VolatilityAdjustmentFactor float64 `toml:"volatility_adjustment_factor"`
	VolSpreadBpsPerUnit        float64 `toml:"vol_spread_bps_per_unit"`
	DepthRatioFloor            float64 `toml:"depth_ratio_floor"`
	DepthPenaltyBps            float64 `toml:"depth_penalty_bps"`
	ImbalancePenaltyBps        float64 `toml:"imbalance_penalty_bps"`
	AdverseThreshold           float64 `toml:"adverse_threshold"`
	AdversePenaltyFactor       float64 `toml:"adverse_penalty_factor"`
	AdverseWindow              int     `toml:"adverse_window"`
	AdverseMinFills            int     `toml:"adverse_min_fills"`
	BreachAction               string  `toml:"breach_action"`
}

// BacktestConfig holds replay, cost and fill model parameters plus the
// input location and result sinks.
type BacktestConfig struct {
	InitialCapital            float64 `toml:"initial_capital"`
	CostBps                   float64 `toml:"cost_bps"`
	SlippageBps               float64 `toml:"slippage_bps"`
	RiskFreeRate              float64 `toml:"risk_free_rate"`
	TicksPerPeriod            int     `toml:"ticks_per_period"`
	PeriodsPerYear            float64 `toml:"periods_per_year"`
	WarmupTicks               int     `toml:"warmup_ticks"`
	Seed                      int64   `toml:"seed"`
	SkipInvalid               bool    `toml:"skip_invalid"`
	FillMaxProbability        float64 `toml:"fill_max_probability"`
	FillIntercept             float64 `toml:"fill_intercept"`
	FillSpreadSensitivity     float64 `toml:"fill_spread_sensitivity"`
	FillImbalanceSensitivity  float64 `toml:"fill_imbalance_sensitivity"`
	FillVolatilitySensitivity float64 `toml:"fill_volatility_sensitivity"`
	FillMinFraction           float64 `toml:"fill_min_fraction"`
	InputPath                 string  `toml:"input_path"`
	InputS3Key                string  `toml:"input_s3_key"`
	StoreResults              bool    `toml:"store_results"`
	ArchiveResults            bool    `toml:"archive_results"`
}

// FeedConfig selects the live market data source.
type FeedConfig struct {
	// Source is "websocket" or "redis".
	Source       string `toml:"source"`
	WSURL        string `toml:"ws_url"`
	RedisChannel string `toml:"redis_channel"`
	// RedisStream, when set, tails a stream instead of the channel.
	RedisStream  string `toml:"redis_stream"`
	RedisStartID string `toml:"redis_start_id"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	StateTTL   duration `toml:"state_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	ReportPrefix   string `toml:"report_prefix"`
}

// NotifyConfig holds notification channel credentials and the breach alert
// budget.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	AlertLimit        int      `toml:"alert_limit"`
	AlertWindow       duration `toml:"alert_window"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	Path    string `toml:"path"`
}

// duration is a time.Duration that decodes from TOML strings like "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the component defaults. These
// match config.example.toml.
func Defaults() Config {
	book := orderbook.DefaultConfig()
	vol := volatility.DefaultParams()
	rk := risk.DefaultConfig()
	q := marketmaker.DefaultQuoteConfig()
	bt := backtest.DefaultConfig()

	return Config{
		Engine: EngineConfig{
			QueueSize:          1024,
			SnapshotInterval:   duration{30 * time.Second},
			LockTTL:            duration{15 * time.Second},
			QuoteChannelPrefix: "quotes",
			QuoteStream:        "quotes",
			FillChannel:        "fills",
			RestoreState:       true,
		},
		Book: BookConfig{
			DepthLevels: book.DepthLevels,
			TickSize:    book.TickSize,
			DepthDecay:  book.DepthDecay,
		},
		Volatility: VolatilityConfig{
			EWMADecay:            vol.EWMADecay,
			GARCHOmega:           vol.Omega,
			GARCHAlpha:           vol.Alpha,
			GARCHBeta:            vol.Beta,
			AnnualizationFactor:  vol.AnnualizationFactor,
			EWMAWeight:           vol.EWMAWeight,
			RegimeLow:            vol.Thresholds.Low,
			RegimeNormal:         vol.Thresholds.Normal,
			RegimeHigh:           vol.Thresholds.High,
			HistorySize:          volatility.DefaultHistorySize,
			ClusteringMinReturns: volatility.DefaultMinClusteringReturns,
		},
		Risk: RiskConfig{
			Capital:            rk.Capital,
			MaxPosition:        rk.MaxPosition,
			MaxDailyLoss:       rk.MaxDailyLoss,
			VaRLimit:           rk.VaRLimit,
			LeverageLimit:      rk.LeverageLimit,
			GrossExposureLimit: rk.GrossExposureLimit,
			NetExposureLimit:   rk.NetExposureLimit,
			ConcentrationLimit: rk.ConcentrationLimit,
			MaxDrawdown:        rk.MaxDrawdown,
			MaxRiskScore:       rk.MaxRiskScore,
			MinVaRSamples:      rk.MinVaRSamples,
		},
		MarketMaker: MarketMakerConfig{
			TargetSpreadBps:            q.TargetSpreadBps,
			MinSpreadBps:               q.MinSpreadBps,
			MaxSpreadBps:               q.MaxSpreadBps,
			DefaultQuoteSize:           q.DefaultQuoteSize,
			SkewFactor:                 q.SkewFactor,
			MaxInventoryDeviation:      q.MaxInventoryDeviation,
			VolatilityAdjustmentFactor: q.VolatilityAdjustmentFactor,
			VolSpreadBpsPerUnit:        q.VolSpreadBpsPerUnit,
			DepthRatioFloor:            q.DepthRatioFloor,
			DepthPenaltyBps:            q.DepthPenaltyBps,
			ImbalancePenaltyBps:        q.ImbalancePenaltyBps,
			AdverseThreshold:           q.Adverse.Threshold,
			AdversePenaltyFactor:       q.Adverse.PenaltyFactor,
			AdverseWindow:              q.Adverse.Window,
			AdverseMinFills:            q.Adverse.MinFills,
			BreachAction:               string(q.BreachAction),
		},
		Backtest: BacktestConfig{
			InitialCapital:            1_000_000,
			CostBps:                   bt.CostBps,
			SlippageBps:               bt.SlippageBps,
			RiskFreeRate:              bt.RiskFreeRate,
			TicksPerPeriod:            bt.TicksPerPeriod,
			PeriodsPerYear:            bt.PeriodsPerYear,
			WarmupTicks:               bt.WarmupTicks,
			Seed:                      int64(bt.Seed),
			FillMaxProbability:        bt.Fill.MaxProbability,
			FillIntercept:             bt.Fill.Intercept,
			FillSpreadSensitivity:     bt.Fill.SpreadSensitivity,
			FillImbalanceSensitivity:  bt.Fill.ImbalanceSensitivity,
			FillVolatilitySensitivity: bt.Fill.VolatilitySensitivity,
			FillMinFraction:           bt.Fill.MinFillFraction,
		},
		Feed: FeedConfig{
			Source:       "websocket",
			WSURL:        "ws://localhost:8081/ticks",
			RedisChannel: "ticks",
			RedisStartID: "$",
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "mmengine",
			StateTTL:   duration{7 * 24 * time.Hour},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "mmengine",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "mmengine",
			ForcePathStyle: true,
			ReportPrefix:   "backtests",
		},
		Notify: NotifyConfig{
			Events:      []string{"limit_breach", "engine_started", "engine_stopped", "backtest_complete", "error"},
			AlertLimit:  3,
			AlertWindow: duration{5 * time.Minute},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9102",
			Path:    "/metrics",
		},
		Mode:     "backtest",
		LogLevel: "info",
	}
}

// MarketMakerEngineConfig converts the book, volatility, risk and quoting
// sections into the market maker's configuration.
func (c *Config) MarketMakerEngineConfig() marketmaker.Config {
	return marketmaker.Config{
		Book: orderbook.Config{
			DepthLevels: c.Book.DepthLevels,
			TickSize:    c.Book.TickSize,
			DepthDecay:  c.Book.DepthDecay,
		},
		Volatility: volatility.Params{
			EWMADecay:           c.Volatility.EWMADecay,
			Omega:               c.Volatility.GARCHOmega,
			Alpha:               c.Volatility.GARCHAlpha,
			Beta:                c.Volatility.GARCHBeta,
			AnnualizationFactor: c.Volatility.AnnualizationFactor,
			EWMAWeight:          c.Volatility.EWMAWeight,
			Thresholds: volatility.Thresholds{
				Low:    c.Volatility.RegimeLow,
				Normal: c.Volatility.RegimeNormal,
				High:   c.Volatility.RegimeHigh,
			},
		},
		HistorySize:          c.Volatility.HistorySize,
		MinClusteringReturns: c.Volatility.ClusteringMinReturns,
		Risk: risk.Config{
			Capital:            c.Risk.Capital,
			MaxPosition:        c.Risk.MaxPosition,
			MaxDailyLoss:       c.Risk.MaxDailyLoss,
			VaRLimit:           c.Risk.VaRLimit,
			LeverageLimit:      c.Risk.LeverageLimit,
			GrossExposureLimit: c.Risk.GrossExposureLimit,
			NetExposureLimit:   c.Risk.NetExposureLimit,
			ConcentrationLimit: c.Risk.ConcentrationLimit,
			MaxDrawdown:        c.Risk.MaxDrawdown,
			MaxRiskScore:       c.Risk.MaxRiskScore,
			MinVaRSamples:      c.Risk.MinVaRSamples,
		},
		Quote: marketmaker.QuoteConfig{
			TargetSpreadBps:            c.MarketMaker.TargetSpreadBps,
			MinSpreadBps:               c.MarketMaker.MinSpreadBps,
			MaxSpreadBps:               c.MarketMaker.MaxSpreadBps,
			DefaultQuoteSize:           c.MarketMaker.DefaultQuoteSize,
			SkewFactor:                 c.MarketMaker.SkewFactor,
			MaxInventoryDeviation:      c.MarketMaker.MaxInventoryDeviation,
			VolatilityAdjustmentFactor: c.MarketMaker.VolatilityAdjustmentFactor,
			VolSpreadBpsPerUnit:        c.MarketMaker.VolSpreadBpsPerUnit,
			DepthRatioFloor:            c.MarketMaker.DepthRatioFloor,
			DepthPenaltyBps:            c.MarketMaker.DepthPenaltyBps,
			ImbalancePenaltyBps:        c.MarketMaker.ImbalancePenaltyBps,
			TickSize:                   c.Book.TickSize,
			Adverse: marketmaker.AdverseConfig{
				Threshold:     c.MarketMaker.AdverseThreshold,
				PenaltyFactor: c.MarketMaker.AdversePenaltyFactor,
				Window:        c.MarketMaker.AdverseWindow,
				MinFills:      c.MarketMaker.AdverseMinFills,
			},
			BreachAction: marketmaker.BreachAction(strings.ToLower(c.MarketMaker.BreachAction)),
		},
	}
}

// BacktestMarketMakerConfig is MarketMakerEngineConfig with the backtest's
// initial capital.
func (c *Config) BacktestMarketMakerConfig() marketmaker.Config {
	mm := c.MarketMakerEngineConfig()
	mm.Risk.Capital = c.Backtest.InitialCapital
	return mm
}

// BacktestEngineConfig converts the backtest section.
func (c *Config) BacktestEngineConfig() backtest.Config {
	return backtest.Config{
		CostBps:        c.Backtest.CostBps,
		SlippageBps:    c.Backtest.SlippageBps,
		RiskFreeRate:   c.Backtest.RiskFreeRate,
		TicksPerPeriod: c.Backtest.TicksPerPeriod,
		PeriodsPerYear: c.Backtest.PeriodsPerYear,
		WarmupTicks:    c.Backtest.WarmupTicks,
		Seed:           uint64(c.Backtest.Seed),
		SkipInvalid:    c.Backtest.SkipInvalid,
		Fill: backtest.FillModelConfig{
			MaxProbability:        c.Backtest.FillMaxProbability,
			Intercept:             c.Backtest.FillIntercept,
			SpreadSensitivity:     c.Backtest.FillSpreadSensitivity,
			ImbalanceSensitivity:  c.Backtest.FillImbalanceSensitivity,
			VolatilitySensitivity: c.Backtest.FillVolatilitySensitivity,
			MinFillFraction:       c.Backtest.FillMinFraction,
		},
	}
}

var validModes = map[string]bool{
	"live":     true,
	"backtest": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validFeedSources = map[string]bool{
	"websocket": true,
	"redis":     true,
}

// Validate checks Config for invalid or missing values and returns one
// error listing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, backtest)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	mmCfg := c.MarketMakerEngineConfig()
	if mode == "backtest" {
		mmCfg = c.BacktestMarketMakerConfig()
	}
	if err := mmCfg.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if mmCfg.HistorySize < 2 {
		errs = append(errs, "volatility: history_size must be >= 2")
	}

	switch mode {
	case "live":
		if len(c.Engine.Symbols) == 0 {
			errs = append(errs, "engine: symbols must not be empty in live mode")
		}
		if c.Engine.QueueSize < 1 {
			errs = append(errs, "engine: queue_size must be >= 1")
		}
		if !c.Redis.Enabled {
			errs = append(errs, "redis: must be enabled in live mode (quote bus, locks, state)")
		}
		if c.Engine.LockTTL.Duration < time.Second {
			errs = append(errs, "engine: lock_ttl must be >= 1s")
		}
		if !validFeedSources[strings.ToLower(c.Feed.Source)] {
			errs = append(errs, fmt.Sprintf("feed: unknown source %q (valid: websocket, redis)", c.Feed.Source))
		}
		if strings.EqualFold(c.Feed.Source, "websocket") && c.Feed.WSURL == "" {
			errs = append(errs, "feed: ws_url must not be empty for the websocket source")
		}
		if strings.EqualFold(c.Feed.Source, "redis") && c.Feed.RedisChannel == "" && c.Feed.RedisStream == "" {
			errs = append(errs, "feed: redis_channel or redis_stream must be set for the redis source")
		}
	case "backtest":
		if err := c.BacktestEngineConfig().Validate(); err != nil {
			errs = append(errs, err.Error())
		}
		if c.Backtest.InitialCapital <= 0 {
			errs = append(errs, "backtest: initial_capital must be > 0")
		}
		if (c.Backtest.InputPath == "") == (c.Backtest.InputS3Key == "") {
			errs = append(errs, "backtest: exactly one of input_path or input_s3_key must be set")
		}
		if c.Backtest.InputS3Key != "" && !c.S3.Enabled {
			errs = append(errs, "backtest: input_s3_key requires s3.enabled")
		}
		if c.Backtest.ArchiveResults && !c.S3.Enabled {
			errs = append(errs, "backtest: archive_results requires s3.enabled")
		}
		if c.Backtest.StoreResults && !c.Postgres.Enabled {
			errs = append(errs, "backtest: store_results requires postgres.enabled")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics: addr must not be empty when enabled")
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
