package strategy

import (
	"context"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

// Publisher pushes a committed signal to the delivery channel.
type Publisher interface {
	PublishSignal(ctx context.Context, sig domain.Signal) error
}

// Notifier hands a signal to the notification fan-out. Enqueue must not
// block; it reports whether the signal was accepted. persisted tells the
// notifier whether a stored row exists for status updates.
type Notifier interface {
	Enqueue(sig domain.Signal, persisted bool) bool
}
