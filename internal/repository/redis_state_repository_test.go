package repository

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-monitor/pkg/redis"
)

func TestRedisAlertStateStore_Versions(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	store := NewRedisAlertStateStore(redis.NewFromClient(db))

	mock.ExpectGet("alert:version:tkt-1").RedisNil()
	mock.ExpectScriptLoad(setMaxScript).SetVal("sha-max")
	mock.ExpectEvalSha("sha-max", []string{"alert:version:tkt-1"}, 4).SetVal(int64(4))
	mock.ExpectGet("alert:version:tkt-1").SetVal("4")

	v, err := store.LastVersion(ctx, "tkt-1")
	require.NoError(t, err)
	assert.Zero(t, v)

	require.NoError(t, store.SetLastVersion(ctx, "tkt-1", 4))

	v, err = store.LastVersion(ctx, "tkt-1")
	require.NoError(t, err)
	assert.Equal(t, 4, v)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisAlertStateStore_Fired(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	store := NewRedisAlertStateStore(redis.NewFromClient(db))

	mock.ExpectSAdd("alert:fired:rule-1", "tkt-1").SetVal(1)
	mock.ExpectSIsMember("alert:fired:rule-1", "tkt-1").SetVal(true)
	mock.ExpectSRem("alert:fired:rule-1", "tkt-1").SetVal(1)
	mock.ExpectSIsMember("alert:fired:rule-1", "tkt-1").SetVal(false)

	require.NoError(t, store.SetFired(ctx, "rule-1", "tkt-1", true))
	fired, err := store.Fired(ctx, "rule-1", "tkt-1")
	require.NoError(t, err)
	assert.True(t, fired)

	require.NoError(t, store.SetFired(ctx, "rule-1", "tkt-1", false))
	fired, err = store.Fired(ctx, "rule-1", "tkt-1")
	require.NoError(t, err)
	assert.False(t, fired)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCheckpointStore(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	store := NewRedisCheckpointStore(redis.NewFromClient(db))

	mock.ExpectGet("checkpoint:alert-engine").RedisNil()
	mock.ExpectScriptLoad(setMaxScript).SetVal("sha-max")
	mock.ExpectEvalSha("sha-max", []string{"checkpoint:alert-engine"}, int64(17)).SetVal(int64(17))

	pos, err := store.Load(ctx, "alert-engine")
	require.NoError(t, err)
	assert.Zero(t, pos)

	require.NoError(t, store.Store(ctx, "alert-engine", 17))
	assert.NoError(t, mock.ExpectationsWereMet())
}
