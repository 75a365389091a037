package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/signalboard/internal/blob/s3"
	"github.com/alanyoungcy/signalboard/internal/cache/redis"
	"github.com/alanyoungcy/signalboard/internal/config"
	"github.com/alanyoungcy/signalboard/internal/domain"
	"github.com/alanyoungcy/signalboard/internal/metrics"
	"github.com/alanyoungcy/signalboard/internal/notify"
	"github.com/alanyoungcy/signalboard/internal/rules"
	"github.com/alanyoungcy/signalboard/internal/server/handler"
	"github.com/alanyoungcy/signalboard/internal/server/middleware"
	"github.com/alanyoungcy/signalboard/internal/server/ws"
	"github.com/alanyoungcy/signalboard/internal/service"
	"github.com/alanyoungcy/signalboard/internal/store/postgres"
	"github.com/alanyoungcy/signalboard/internal/strategy"
)

// Dependencies bundles every component the application modes run. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Storage
	Postgres *postgres.Client
	Stores   postgres.Stores

	// Redis is nil when redis.enabled is false; the fields below then hold
	// in-process fallbacks or stay nil.
	Redis       *redis.Client
	SignalBus   domain.SignalBus
	Snapshots   domain.SnapshotCache
	RateLimiter domain.RateLimiter
	Locks       domain.JobLocker

	// Archiver is nil unless archive.enabled is set.
	Archiver domain.Archiver

	Metrics  *metrics.Metrics
	Registry *strategy.Registry
	Engine   *strategy.Engine
	Notifier *notify.Notifier
	Hub      *ws.Hub

	Strategies  *service.StrategyService
	Signals     *service.SignalService
	Instruments *service.InstrumentService
	Handlers    Handlers
}

// Handlers groups the HTTP handlers built from the services.
type Handlers struct {
	Health      *handler.HealthHandler
	Strategies  *handler.StrategyHandler
	Signals     *handler.SignalHandler
	Instruments *handler.InstrumentHandler
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

	deps := &Dependencies{Metrics: metrics.New()}

	// --- PostgreSQL ---
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
		applied, err := pgClient.RunMigrations(ctx)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.InfoContext(ctx, "migrations applied", slog.Any("files", applied))
		}
	}
	deps.Postgres = pgClient
	deps.Stores = pgClient.Stores()

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Snapshots = redis.NewSnapshotCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Locks = redis.NewJobLocks(redisClient)
	} else {
		logger.WarnContext(ctx, "redis disabled; signals are broadcast in-process and rate limits are per instance")
		deps.RateLimiter = middleware.NewLocalLimiter()
	}

	// --- S3 archive ---
	var s3Health handler.PingFunc
	if cfg.Archive.Enabled {
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
		s3Health = s3Client.Health
		deps.Archiver = s3blob.NewSignalArchiver(
			s3blob.NewWriter(s3Client, cfg.Archive.Prefix),
			deps.Stores.Signals,
			deps.Stores.Watermarks,
			deps.Stores.Audit,
		)
	}

	// --- Engine ---
	deps.Registry = strategy.NewRegistry(rules.NewCompiler())
	deps.Engine = strategy.NewEngine(deps.Registry, deps.Stores.Signals, strategy.EngineConfig{
		QueueSize:      cfg.Engine.QueueSize,
		PersistTimeout: cfg.Engine.PersistTimeout.Duration,
		RecentLimit:    cfg.Engine.RecentLimit,
	}, logger)
	deps.Engine.SetMetrics(deps.Metrics)
	if deps.Snapshots != nil {
		deps.Engine.SetSnapshotCache(deps.Snapshots)
	}

	// --- Services ---
	deps.Strategies = service.NewStrategyService(deps.Stores.Strategies, deps.Stores.Audit, deps.Registry, logger)
	deps.Signals = service.NewSignalService(deps.Stores.Signals, logger)
	deps.Signals.SetRecentSource(deps.Engine.RecentSignals)
	deps.Instruments = service.NewInstrumentService(deps.Stores.Instruments, deps.Snapshots, deps.Engine, logger)

	// --- Delivery ---
	// With redis the engine publishes to the bus and every hub relays it, so
	// server-mode instances see signals fired elsewhere. Without redis the
	// hub is the publisher.
	hubCfg := ws.Config{AllowedOrigins: cfg.Server.CORSOrigins}
	if deps.SignalBus != nil {
		hubCfg.Channel = redis.ChannelSignals
	}
	deps.Hub = ws.NewHub(deps.SignalBus, hubCfg, logger)
	deps.Hub.SetMetrics(deps.Metrics)
	if deps.SignalBus != nil {
		deps.Engine.SetPublisher(ws.NewBusPublisher(deps.SignalBus, redis.ChannelSignals, redis.StreamSignals, logger))
	} else {
		deps.Engine.SetPublisher(deps.Hub)
	}

	deps.Notifier = notify.NewNotifier(buildSenders(cfg.Notify), cfg.Notify.Events, notify.Config{
		QueueSize:       cfg.Notify.QueueSize,
		RatePerSecond:   cfg.Notify.RatePerSecond,
		Burst:           cfg.Notify.Burst,
		BreakerFailures: uint32(cfg.Notify.BreakerFailures),
		BreakerCooldown: cfg.Notify.BreakerCooldown.Duration,
	}, logger)
	deps.Notifier.SetMetrics(deps.Metrics)
	deps.Notifier.SetStatusFunc(deps.Signals.RecordStatus)
	deps.Engine.SetNotifier(deps.Notifier)

	// --- Handlers ---
	pingers := map[string]handler.Pinger{"postgres": pgClient}
	if deps.Redis != nil {
		pingers["redis"] = deps.Redis
	}
	if s3Health != nil {
		pingers["s3"] = s3Health
	}
	handlerLogger := logger.With(slog.String("component", "handler"))
	deps.Handlers = Handlers{
		Health:      handler.NewHealthHandler(pingers, handlerLogger),
		Strategies:  handler.NewStrategyHandler(deps.Strategies, handlerLogger),
		Signals:     handler.NewSignalHandler(deps.Signals, handlerLogger),
		Instruments: handler.NewInstrumentHandler(deps.Instruments, handlerLogger),
	}

	return deps, cleanup, nil
}

// buildSenders returns one sender per configured notification channel.
func buildSenders(cfg config.NotifyConfig) []notify.Sender {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	if strings.TrimSpace(cfg.WebhookURL) != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.WebhookURL, cfg.WebhookSecret))
	}
	return senders
}
