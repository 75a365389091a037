package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/signalboard/internal/domain"
	"github.com/alanyoungcy/signalboard/internal/feed"
	"github.com/alanyoungcy/signalboard/internal/server"
)

// FullMode runs the engine, feed, notifier, hub and HTTP server in one
// process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startEngine(ctx, g, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	g.Go(func() error {
		return deps.Hub.Run(ctx)
	})
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// EngineMode evaluates strategies and dispatches notifications without
// serving HTTP. Fired signals reach dashboards through the redis bus.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")
	if deps.SignalBus == nil {
		a.logger.WarnContext(ctx, "engine mode without redis: signals are persisted and notified but not broadcast")
		deps.Engine.SetPublisher(nil)
	}

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startEngine(ctx, g, deps); err != nil {
		return fmt.Errorf("engine mode: %w", err)
	}
	return g.Wait()
}

// ServerMode serves the REST API and relays signals published on the redis
// bus by engine-mode instances to websocket clients.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	if _, err := deps.Strategies.Load(ctx); err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	g.Go(func() error {
		return deps.Hub.Run(ctx)
	})
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// startEngine loads strategies and instruments, then adds the engine, its
// feed, the notifier and the periodic refresh and archive loops to g.
func (a *App) startEngine(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if _, err := deps.Strategies.Load(ctx); err != nil {
		return err
	}
	if err := deps.Instruments.Refresh(ctx, deps.Engine); err != nil {
		return err
	}

	g.Go(func() error {
		return deps.Engine.Run(ctx)
	})
	g.Go(func() error {
		return deps.Notifier.Run(ctx)
	})

	if err := a.startFeed(ctx, g, deps); err != nil {
		return err
	}

	if every := a.cfg.Engine.InstrumentRefresh.Duration; every > 0 {
		g.Go(func() error {
			return a.every(ctx, every, "refresh", func(ctx context.Context) error {
				if _, err := deps.Strategies.Load(ctx); err != nil {
					return err
				}
				return deps.Instruments.Refresh(ctx, deps.Engine)
			})
		})
	}

	if deps.Archiver != nil {
		retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
		g.Go(func() error {
			return a.every(ctx, a.cfg.Archive.Interval.Duration, "archive", func(ctx context.Context) error {
				return a.archiveOnce(ctx, deps, retention)
			})
		})
	}
	return nil
}

// archiveOnce exports signals older than retention. With a job locker only
// one instance runs per interval: the lock is left to expire after a
// successful run and released at once when the run fails.
func (a *App) archiveOnce(ctx context.Context, deps *Dependencies, retention time.Duration) error {
	release := func() {}
	if deps.Locks != nil {
		r, err := deps.Locks.TryLock(ctx, "archive", a.cfg.Archive.Interval.Duration)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.DebugContext(ctx, "archive run skipped; another instance holds the lock")
			return nil
		}
		if err != nil {
			return err
		}
		release = r
	}

	n, err := deps.Archiver.ArchiveSignals(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		release()
		return err
	}
	a.logger.InfoContext(ctx, "signals archived", slog.Int64("count", n))
	return nil
}

// startFeed adds the configured sample source to g.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	switch strings.ToLower(a.cfg.Feed.Kind) {
	case "redis":
		if deps.SignalBus == nil {
			return errors.New("feed: redis feed requires redis")
		}
		f := feed.NewRedisFeeder(deps.SignalBus, a.cfg.Feed.Channel, deps.Engine, a.logger)
		g.Go(func() error {
			if !waitReady(ctx, deps.Engine.Ready()) {
				return nil
			}
			return f.Run(ctx)
		})
	case "kafka":
		k, err := feed.NewKafkaConsumer(feed.KafkaConfig{
			Brokers:    a.cfg.Feed.Brokers,
			Topic:      a.cfg.Feed.Topic,
			GroupID:    a.cfg.Feed.GroupID,
			FromOldest: a.cfg.Feed.FromOldest,
		}, deps.Engine, a.logger)
		if err != nil {
			return fmt.Errorf("feed: %w", err)
		}
		g.Go(func() error {
			defer k.Close()
			if !waitReady(ctx, deps.Engine.Ready()) {
				return nil
			}
			return k.Run(ctx)
		})
	default:
		a.logger.WarnContext(ctx, "no sample feed configured; samples must be ingested by another process")
	}
	return nil
}

// waitReady blocks until ready is closed and reports false if ctx ended
// first.
func waitReady(ctx context.Context, ready <-chan struct{}) bool {
	select {
	case <-ready:
		return true
	case <-ctx.Done():
		return false
	}
}

// every runs fn on each tick of interval until ctx is cancelled. Failures
// are logged and retried on the next tick.
func (a *App) every(ctx context.Context, interval time.Duration, name string, fn func(context.Context) error) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				a.logger.WarnContext(ctx, "periodic task failed",
					slog.String("task", name),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// startHTTPServer adds the HTTP server and its graceful shutdown to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:      deps.Handlers.Health,
		Strategies:  deps.Handlers.Strategies,
		Signals:     deps.Handlers.Signals,
		Instruments: deps.Handlers.Instruments,
		Metrics:     deps.Metrics.Handler(),
	}, deps.Hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
