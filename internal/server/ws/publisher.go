package ws

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

// BusPublisher publishes signal envelopes to a SignalBus channel, from which
// every hub relays them, and appends them to a durable stream.
type BusPublisher struct {
	bus     domain.SignalBus
	channel string
	stream  string
	logger  *slog.Logger
}

// NewBusPublisher creates a BusPublisher. An empty stream disables the
// durable append.
func NewBusPublisher(bus domain.SignalBus, channel, stream string, logger *slog.Logger) *BusPublisher {
	return &BusPublisher{
		bus:     bus,
		channel: channel,
		stream:  stream,
		logger:  logger.With(slog.String("component", "bus_publisher")),
	}
}

// PublishSignal implements strategy.Publisher. Stream append failures are
// logged only; the live publish decides the result.
func (p *BusPublisher) PublishSignal(ctx context.Context, sig domain.Signal) error {
	data, err := encodeSignal(sig)
	if err != nil {
		return err
	}
	if err := p.bus.Publish(ctx, p.channel, data); err != nil {
		return fmt.Errorf("ws: publish signal %s: %w", sig.ID, err)
	}
	if p.stream != "" {
		if err := p.bus.StreamAppend(ctx, p.stream, data); err != nil {
			p.logger.WarnContext(ctx, "stream append failed",
				slog.String("signal_id", sig.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}
