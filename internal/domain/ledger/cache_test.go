package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBalanceCacheRoundTrip(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisBalanceCache(db, 30*time.Second)
	ctx := context.Background()
	userID := uuid.New()
	keys := []string{versionKey(userID), balanceKey(userID)}

	mock.ExpectGet(balanceKey(userID)).RedisNil()
	mock.ExpectGet(versionKey(userID)).RedisNil()
	mock.ExpectEvalSha(setIfVersionScript.Hash(), keys, int64(0), int64(600), int64(30000)).SetVal(int64(1))
	mock.ExpectGet(balanceKey(userID)).SetVal("600")
	mock.ExpectEvalSha(invalidateScript.Hash(), keys, time.Hour.Milliseconds()).SetVal(int64(1))

	_, ok, err := cache.Get(ctx, userID)
	require.NoError(t, err)
	assert.False(t, ok)

	version, err := cache.Version(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, version)

	stored, err := cache.SetIfVersion(ctx, userID, version, 600)
	require.NoError(t, err)
	assert.True(t, stored)

	v, ok, err := cache.Get(ctx, userID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 600, v)

	require.NoError(t, cache.Invalidate(ctx, userID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisBalanceCacheDropsWriteFromOldVersion(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisBalanceCache(db, time.Minute)
	userID := uuid.New()

	mock.ExpectEvalSha(setIfVersionScript.Hash(), []string{versionKey(userID), balanceKey(userID)}, int64(4), int64(1000), int64(60000)).SetVal(int64(0))

	stored, err := cache.SetIfVersion(context.Background(), userID, 4, 1000)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisBalanceCacheVersionOutlivesValues(t *testing.T) {
	db, _ := redismock.NewClientMock()
	assert.Equal(t, time.Hour, NewRedisBalanceCache(db, 30*time.Second).versionTTL)
	assert.Equal(t, 20*time.Hour, NewRedisBalanceCache(db, 2*time.Hour).versionTTL)
}

func TestRedisBalanceCacheError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisBalanceCache(db, time.Minute)
	userID := uuid.New()

	mock.ExpectGet(balanceKey(userID)).SetErr(errors.New("connection refused"))
	mock.ExpectGet(versionKey(userID)).SetErr(errors.New("connection refused"))

	_, ok, err := cache.Get(context.Background(), userID)
	assert.Error(t, err)
	assert.False(t, ok)

	_, err = cache.Version(context.Background(), userID)
	assert.Error(t, err)
}
