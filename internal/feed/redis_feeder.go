package feed

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

// RedisFeeder subscribes to a SignalBus channel carrying JSON samples and
// feeds them into a Sink.
type RedisFeeder struct {
	bus     domain.SignalBus
	channel string
	sink    Sink
	logger  *slog.Logger
}

// NewRedisFeeder creates a RedisFeeder.
func NewRedisFeeder(bus domain.SignalBus, channel string, sink Sink, logger *slog.Logger) *RedisFeeder {
	return &RedisFeeder{
		bus:     bus,
		channel: channel,
		sink:    sink,
		logger:  logger.With(slog.String("component", "redis_feeder")),
	}
}

// Run consumes the channel until ctx is cancelled or the subscription ends.
func (f *RedisFeeder) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, f.channel)
	if err != nil {
		return err
	}
	f.logger.Info("redis feeder started", slog.String("channel", f.channel))
	defer f.logger.Info("redis feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			handle(ctx, f.sink, data, f.logger)
		}
	}
}

// handle decodes and ingests one message. Bad messages and feed gaps are
// logged and skipped; the source keeps flowing.
func handle(ctx context.Context, sink Sink, data []byte, logger *slog.Logger) {
	s, err := DecodeSample(data)
	if err != nil {
		logger.WarnContext(ctx, "dropping malformed sample",
			slog.String("error", err.Error()),
			slog.Int("payload_len", len(data)),
		)
		return
	}
	if err := sink.Ingest(ctx, s); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, context.Canceled) {
			level = slog.LevelDebug
		}
		logger.Log(ctx, level, "ingest failed",
			slog.String("instrument_id", s.InstrumentID),
			slog.String("timeframe", string(s.Timeframe)),
			slog.String("error", err.Error()),
		)
	}
}
