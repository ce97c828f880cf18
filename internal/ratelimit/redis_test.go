package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-monitor/internal/clock"
	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/pkg/redis"
)

func TestRedisLimiter_Reserve(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewRedisLimiter(redis.NewFromClient(db), clock.NewFixed(t0))

	key := []string{"ratelimit:platform:ticketmaster"}
	now := t0.UnixMicro()

	mock.ExpectScriptLoad(reserveScript).SetVal("sha-reserve")
	mock.ExpectEvalSha("sha-reserve", key, now, int64(1_000_000), int64(1)).SetVal(int64(0))
	mock.ExpectEvalSha("sha-reserve", key, now, int64(1_000_000), int64(1)).SetVal(int64(1_000_000))

	assert.Equal(t, []time.Duration{0, time.Second}, reserveDelays(t, l, domain.PlatformTicketmaster, 1, 1, 2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLimiter_CancelRefunds(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	l := NewRedisLimiter(redis.NewFromClient(db), clock.NewFixed(t0))

	key := []string{"ratelimit:platform:stubhub"}
	now := t0.UnixMicro()

	mock.ExpectScriptLoad(reserveScript).SetVal("sha-reserve")
	mock.ExpectEvalSha("sha-reserve", key, now, int64(250_000), int64(2)).SetVal(int64(0))
	mock.ExpectScriptLoad(refundScript).SetVal("sha-refund")
	mock.ExpectEvalSha("sha-refund", key, now, int64(250_000)).SetVal(int64(1))

	r, err := l.Reserve(ctx, domain.PlatformStubHub, 4, 2)
	require.NoError(t, err)
	require.NoError(t, r.Cancel(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLimiter_Error(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewRedisLimiter(redis.NewFromClient(db), clock.NewFixed(t0))

	mock.ExpectScriptLoad(reserveScript).SetErr(errors.New("connection refused"))

	_, err := l.Reserve(context.Background(), domain.PlatformAXS, 1, 1)
	assert.Error(t, err)
}

func TestEmissionInterval(t *testing.T) {
	assert.Equal(t, int64(1_000_000), emissionInterval(1))
	assert.Equal(t, int64(100_000), emissionInterval(10))
	assert.Equal(t, int64(333_334), emissionInterval(3))
}
