package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

// snapshotTTL keeps stale pairs from lingering after a feed stops.
const snapshotTTL = 24 * time.Hour

// SnapshotCache implements domain.SnapshotCache. Each pair's latest sample
// and indicator values are stored as JSON at "snapshot:{instrument}:{tf}".
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client.
func NewSnapshotCache(c *Client) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying(), ttl: snapshotTTL}
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)

func snapshotKey(instrumentID string, tf domain.Timeframe) string {
	return "snapshot:" + instrumentID + ":" + string(tf)
}

// SetSnapshot overwrites the pair's cached snapshot.
func (sc *SnapshotCache) SetSnapshot(ctx context.Context, snap domain.MarketSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot: %w", err)
	}
	key := snapshotKey(snap.Sample.InstrumentID, snap.Sample.Timeframe)
	if err := sc.rdb.Set(ctx, key, data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", key, err)
	}
	return nil
}

// GetSnapshot returns the pair's cached snapshot, or domain.ErrNotFound.
func (sc *SnapshotCache) GetSnapshot(ctx context.Context, instrumentID string, tf domain.Timeframe) (domain.MarketSnapshot, error) {
	key := snapshotKey(instrumentID, tf)
	data, err := sc.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", key, err)
	}
	var snap domain.MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: unmarshal snapshot %s: %w", key, err)
	}
	return snap, nil
}
