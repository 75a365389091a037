package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

// releaseLua deletes the lock only while it still carries the caller's token,
// so an expired holder cannot release a lock taken over by someone else.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// JobLocks implements domain.JobLocker with SET NX PX and a token-checked
// release. It keeps periodic jobs such as archiving to one engine instance
// per run when several share a database.
type JobLocks struct {
	rdb      *redis.Client
	release  *redis.Script
	newToken func() string
}

// NewJobLocks creates a JobLocks backed by c.
func NewJobLocks(c *Client) *JobLocks {
	return &JobLocks{
		rdb:      c.Underlying(),
		release:  redis.NewScript(releaseLua),
		newToken: func() string { return uuid.NewString() },
	}
}

var _ domain.JobLocker = (*JobLocks)(nil)

func jobLockKey(job string) string { return "lock:job:" + job }

// TryLock takes the lock for job for ttl.
func (l *JobLocks) TryLock(ctx context.Context, job string, ttl time.Duration) (func(), error) {
	key, token := jobLockKey(job), l.newToken()

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: lock %s: %w", job, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled at shutdown.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = l.release.Run(rctx, l.rdb, []string{key}, token).Err()
		})
	}, nil
}
