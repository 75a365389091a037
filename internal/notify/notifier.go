// Package notify fans committed signals out to operator channels (Telegram,
// Discord, webhooks). Delivery is asynchronous and best effort: the rule
// engine only enqueues, and each sender is isolated behind its own rate
// limiter and circuit breaker.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/signalboard/internal/domain"
	"github.com/alanyoungcy/signalboard/internal/metrics"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// SignalSender is implemented by senders that deliver the structured signal
// rather than rendered text.
type SignalSender interface {
	Sender
	SendSignal(ctx context.Context, sig domain.Signal) error
}

// StatusFunc records the notification outcome of a signal.
type StatusFunc func(ctx context.Context, signalID string, status domain.SignalStatus)

// Config tunes the notifier. Zero values take defaults.
type Config struct {
	QueueSize   int
	SendTimeout time.Duration
	// RatePerSecond and Burst bound each sender independently.
	RatePerSecond float64
	Burst         int
	// BreakerFailures consecutive failures open a sender's breaker for
	// BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 1
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 3
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 60 * time.Second
	}
	return c
}

// queued is a signal waiting for delivery. Only persisted signals have a row
// whose status can be updated.
type queued struct {
	sig       domain.Signal
	persisted bool
}

type guardedSender struct {
	Sender
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// Notifier dispatches notifications to one or more Senders. Signals are
// filtered by signal type; an empty filter lets every signal through.
type Notifier struct {
	senders  []*guardedSender
	events   map[string]bool
	queue    chan queued
	cfg      Config
	onStatus StatusFunc
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewNotifier creates a Notifier for senders. events lists the signal types
// that are forwarded; empty means all.
func NewNotifier(senders []Sender, events []string, cfg Config, logger *slog.Logger) *Notifier {
	cfg = cfg.withDefaults()
	logger = logger.With(slog.String("component", "notifier"))

	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}

	guarded := make([]*guardedSender, 0, len(senders))
	for _, s := range senders {
		name := s.Name()
		guarded = append(guarded, &guardedSender{
			Sender:  s,
			limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:    "notify-" + name,
				Timeout: cfg.BreakerCooldown,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= cfg.BreakerFailures
				},
				OnStateChange: func(name string, from, to gobreaker.State) {
					logger.Warn("sender breaker state changed",
						slog.String("breaker", name),
						slog.String("from", from.String()),
						slog.String("to", to.String()),
					)
				},
			}),
		})
	}

	return &Notifier{
		senders: guarded,
		events:  allowed,
		queue:   make(chan queued, cfg.QueueSize),
		cfg:     cfg,
		metrics: metrics.New(),
		logger:  logger,
	}
}

// SetStatusFunc sets the callback that records notified/notify_failed.
func (n *Notifier) SetStatusFunc(fn StatusFunc) { n.onStatus = fn }

// SetMetrics replaces the notifier's collectors.
func (n *Notifier) SetMetrics(m *metrics.Metrics) {
	if m != nil {
		n.metrics = m
	}
}

// Enqueue hands a signal to the background dispatcher. It never blocks and
// reports false when the queue is full. The status callback only runs for
// persisted signals.
func (n *Notifier) Enqueue(sig domain.Signal, persisted bool) bool {
	select {
	case n.queue <- queued{sig: sig, persisted: persisted}:
		return true
	default:
		n.logger.Warn("notification queue full, dropping signal", slog.String("signal_id", sig.ID))
		return false
	}
}

// Run dispatches queued signals until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	n.logger.Info("notifier started", slog.Int("senders", len(n.senders)))
	defer n.logger.Info("notifier stopped")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case q := <-n.queue:
			n.deliver(ctx, q.sig, q.persisted)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, sig domain.Signal, persisted bool) {
	if len(n.events) > 0 && !n.events[sig.SignalType] {
		n.logger.DebugContext(ctx, "signal filtered out", slog.String("signal_type", sig.SignalType))
		return
	}
	title, message := FormatSignal(sig)
	err := n.dispatch(ctx, func(ctx context.Context, s *guardedSender) error {
		if ss, ok := s.Sender.(SignalSender); ok {
			return ss.SendSignal(ctx, sig)
		}
		return s.Send(ctx, title, message)
	})

	status := domain.SignalStatusNotified
	if err != nil {
		status = domain.SignalStatusNotifyFailed
	}
	if n.onStatus != nil && persisted && sig.ID != "" {
		n.onStatus(ctx, sig.ID, status)
	}
}

// Notify sends a plain operator message to every sender, bypassing the
// signal filter.
func (n *Notifier) Notify(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, func(ctx context.Context, s *guardedSender) error {
		return s.Send(ctx, title, message)
	})
}

// dispatch calls send for every sender. A failing sender never prevents
// delivery to the others; failures are combined into the returned error.
func (n *Notifier) dispatch(ctx context.Context, send func(context.Context, *guardedSender) error) error {
	var errs []error
	for _, s := range n.senders {
		if err := n.sendOne(ctx, s, send); err != nil {
			n.metrics.NotifyFailures.WithLabelValues(s.Name()).Inc()
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.metrics.NotifySent.WithLabelValues(s.Name()).Inc()
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func (n *Notifier) sendOne(ctx context.Context, s *guardedSender, send func(context.Context, *guardedSender) error) error {
	sctx, cancel := context.WithTimeout(ctx, n.cfg.SendTimeout)
	defer cancel()
	if err := s.limiter.Wait(sctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, send(sctx, s)
	})
	return err
}

// FormatSignal renders the user-facing title and body of a signal.
func FormatSignal(sig domain.Signal) (title, message string) {
	name := sig.InstrumentName
	if name == "" {
		name = sig.InstrumentID
	}
	title = fmt.Sprintf("%s: %s", strings.ReplaceAll(sig.SignalType, "_", " "), name)
	strategy := sig.StrategyName
	if strategy == "" {
		strategy = sig.StrategyID
	}
	message = fmt.Sprintf("%s fired at %.2f on %s (%s UTC)",
		strategy, sig.Price, sig.Timeframe, sig.Timestamp.UTC().Format("2006-01-02 15:04"))
	return title, message
}
