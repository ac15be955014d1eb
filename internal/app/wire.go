package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/volumebot/internal/blob/s3"
	"github.com/alanyoungcy/volumebot/internal/cache/redis"
	"github.com/alanyoungcy/volumebot/internal/config"
	"github.com/alanyoungcy/volumebot/internal/crypto"
	"github.com/alanyoungcy/volumebot/internal/domain"
	"github.com/alanyoungcy/volumebot/internal/notify"
	"github.com/alanyoungcy/volumebot/internal/platform/arkham"
	"github.com/alanyoungcy/volumebot/internal/server/handler"
	"github.com/alanyoungcy/volumebot/internal/store/postgres"
)

// Dependencies bundles every external dependency the run needs. Optional
// integrations are nil when disabled in the configuration. It is constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Venue
	Auth   *crypto.HMACAuth
	Orders *arkham.OrderClient

	// Caches
	QuoteCache  domain.QuoteCache
	SignalBus   domain.SignalBus
	LockManager domain.LockManager

	// Stores
	TradeStore domain.TradeStore
	AuditStore domain.AuditStore

	// Blob storage
	BlobWriter domain.BlobWriter

	// Notifications
	Notifier *notify.Notifier

	// Health checks keyed by integration name.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Venue credentials and order gateway ---
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:     cfg.Venue.APISecret,
		EncryptedPath: cfg.Venue.EncryptedSecretPath,
		Password:      cfg.Venue.SecretPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: api secret: %w", err)
	}
	auth, err := crypto.NewHMACAuth(cfg.Venue.APIKey, secret)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: hmac auth: %w", err)
	}
	deps.Auth = auth
	deps.Orders = arkham.NewOrderClient(cfg.Venue.BaseURL, auth, logger,
		arkham.WithOrderPath(cfg.Venue.OrderPath),
		arkham.WithOrderTimeout(cfg.Venue.OrderTimeout.Duration),
	)

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
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
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
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
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.QuoteCache = redis.NewQuoteCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 trade archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
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
		if err := s3Client.EnsureBucket(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client, int64(cfg.S3.PartSizeMB)<<20)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
			cfg.Notify.TelegramAPIBase,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("auth", auth.String()),
		slog.Bool("postgres", cfg.Postgres.Enabled),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("s3", cfg.S3.Enabled),
		slog.Bool("notify", deps.Notifier.Enabled()),
	)

	return deps, cleanup, nil
}
