package queue

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-monitor/internal/clock"
	"github.com/prohmpiriya/ticket-monitor/pkg/redis"
)

func TestMemoryLock(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(t0)
	l := NewMemoryLock(clk)

	ok, err := l.Acquire(ctx, "stubhub:evt-1", "job-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = l.Acquire(ctx, "stubhub:evt-1", "job-2", time.Minute)
	assert.False(t, ok)

	ok, _ = l.Acquire(ctx, "stubhub:evt-1", "job-1", time.Minute)
	assert.True(t, ok, "re-entrant for the holder")

	require.NoError(t, l.Release(ctx, "stubhub:evt-1", "job-2"))
	ok, _ = l.Acquire(ctx, "stubhub:evt-1", "job-2", time.Minute)
	assert.False(t, ok, "release by a non-holder is ignored")

	clk.Advance(time.Minute)
	ok, _ = l.Acquire(ctx, "stubhub:evt-1", "job-2", time.Minute)
	assert.True(t, ok, "expired locks are taken over")

	require.NoError(t, l.Release(ctx, "stubhub:evt-1", "job-2"))
	ok, _ = l.Acquire(ctx, "stubhub:evt-1", "job-3", time.Minute)
	assert.True(t, ok)
}

func TestRedisLock(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	l := NewRedisLock(redis.NewFromClient(db))
	key := "scrape:inflight:stubhub:evt-1"

	mock.ExpectSetNX(key, "job-1", time.Minute).SetVal(true)
	mock.ExpectSetNX(key, "job-2", time.Minute).SetVal(false)
	mock.ExpectGet(key).SetVal("job-1")
	mock.ExpectSetNX(key, "job-1", time.Minute).SetVal(false)
	mock.ExpectGet(key).SetVal("job-1")
	mock.ExpectScriptLoad(releaseLockScript).SetVal("sha-release")
	mock.ExpectEvalSha("sha-release", []string{key}, "job-1").SetVal(int64(1))

	ok, err := l.Acquire(ctx, "stubhub:evt-1", "job-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx, "stubhub:evt-1", "job-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Acquire(ctx, "stubhub:evt-1", "job-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.Release(ctx, "stubhub:evt-1", "job-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLock_KeyVanished(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewRedisLock(redis.NewFromClient(db))
	key := "scrape:inflight:axs:evt-9"

	mock.ExpectSetNX(key, "job-1", time.Minute).SetVal(false)
	mock.ExpectGet(key).RedisNil()

	ok, err := l.Acquire(context.Background(), "axs:evt-9", "job-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
