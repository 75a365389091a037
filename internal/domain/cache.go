package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// JobLocker grants a named job to one process at a time. TryLock returns
// ErrLockHeld when another holder has the job; release is idempotent.
type JobLocker interface {
	TryLock(ctx context.Context, job string, ttl time.Duration) (release func(), err error)
}

// SignalBus relays payloads between processes and appends them to a
// replayable stream.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// MarketSnapshot is the latest sample and indicator values for one
// instrument and timeframe.
type MarketSnapshot struct {
	Sample     Sample            `json:"sample"`
	Indicators IndicatorSnapshot `json:"indicators"`
}

// SnapshotCache stores the most recent MarketSnapshot per instrument and
// timeframe for dashboard reads.
type SnapshotCache interface {
	SetSnapshot(ctx context.Context, snap MarketSnapshot) error
	GetSnapshot(ctx context.Context, instrumentID string, tf Timeframe) (MarketSnapshot, error)
}
