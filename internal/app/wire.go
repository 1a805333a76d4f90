package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/mmengine/internal/blob/s3"
	"github.com/alanyoungcy/mmengine/internal/cache/redis"
	"github.com/alanyoungcy/mmengine/internal/config"
	"github.com/alanyoungcy/mmengine/internal/domain"
	"github.com/alanyoungcy/mmengine/internal/metrics"
	"github.com/alanyoungcy/mmengine/internal/notify"
	"github.com/alanyoungcy/mmengine/internal/store/postgres"
)

// Dependencies bundles the adapters the modes need. Fields for disabled
// backends stay nil.
type Dependencies struct {
	// Redis
	BookCache   domain.BookCache
	StateStore  domain.StateStore
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Postgres
	BacktestStore domain.BacktestStore
	BreachStore   domain.BreachStore

	// S3
	BlobReader domain.BlobReader
	BlobWriter domain.BlobWriter
	Archiver   domain.ReportArchiver

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// Health holds one probe per connected backend, keyed by name.
	Health map[string]func(context.Context) error
}

// Wire connects every enabled backend and returns the adapters together
// with a cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(nil),
		Health:  make(map[string]func(context.Context) error),
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.BookCache = redis.NewBookCache(rc)
		deps.StateStore = redis.NewStateStore(rc, cfg.Redis.StateTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.LockManager = redis.NewLockManager(rc)
		deps.SignalBus = redis.NewSignalBus(rc)
		deps.Health["redis"] = rc.Ping
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pg.Pool()
		deps.BacktestStore = postgres.NewBacktestStore(pool)
		deps.BreachStore = postgres.NewBreachStore(pool)
		deps.Health["postgres"] = pool.Ping
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		w := s3blob.NewWriter(sc)
		deps.BlobReader = s3blob.NewReader(sc)
		deps.BlobWriter = w
		deps.Archiver = s3blob.NewReportArchiver(w, cfg.S3.ReportPrefix)
		deps.Health["s3"] = sc.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
