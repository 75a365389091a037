package redis

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

func TestJobLocksTryLock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locks := NewJobLocks(Wrap(db))
	locks.newToken = func() string { return "tok-1" }

	mock.ExpectSetNX("lock:job:archive", "tok-1", time.Hour).SetVal(true)
	release, err := locks.TryLock(context.Background(), "archive", time.Hour)
	require.NoError(t, err)

	sha := goredis.NewScript(releaseLua).Hash()
	mock.ExpectEvalSha(sha, []string{"lock:job:archive"}, "tok-1").SetVal(int64(1))
	release()
	release()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobLocksHeld(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locks := NewJobLocks(Wrap(db))
	locks.newToken = func() string { return "tok-2" }

	mock.ExpectSetNX("lock:job:archive", "tok-2", time.Minute).SetVal(false)
	_, err := locks.TryLock(context.Background(), "archive", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.NoError(t, mock.ExpectationsWereMet())
}
