package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

// RateLimiter implements domain.RateLimiter as a fixed-window counter shared
// by every process pointing at the same Redis. Each window gets its own key,
// which expires with the window.
type RateLimiter struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{rdb: c.Underlying(), now: time.Now}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

// windowKey names the counter for the window containing t.
func windowKey(key string, window time.Duration, t time.Time) string {
	step := window.Milliseconds()
	if step < 1 {
		step = 1
	}
	return fmt.Sprintf("ratelimit:%s:%d", key, t.UnixMilli()/step)
}

// Allow counts one request for key and reports whether the window still had
// room for it. A non-positive limit or window disables limiting.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	k := windowKey(key, window, rl.now())

	pipe := rl.rdb.TxPipeline()
	count := pipe.Incr(ctx, k)
	pipe.PExpire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return count.Val() <= int64(limit), nil
}
