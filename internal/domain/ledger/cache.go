package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// BalanceCache is a short-lived read cache for display paths. Spend
// authorization never reads it.
//
// Every committed change bumps a per-user version. A balance is stored only
// while the version read before computing it is still current, so a reader
// racing a write can never put an older value back after the write's
// invalidation.
type BalanceCache interface {
	Get(ctx context.Context, userID uuid.UUID) (int64, bool, error)
	Version(ctx context.Context, userID uuid.UUID) (int64, error)
	// SetIfVersion stores balance unless the version has moved past version.
	SetIfVersion(ctx context.Context, userID uuid.UUID, version, balance int64) (bool, error)
	// Invalidate bumps the version and drops the stored balance.
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

const (
	balanceKeyPrefix = "ledger:balance:"
	versionKeyPrefix = "ledger:balance-version:"
)

// KEYS[1] version, KEYS[2] balance; ARGV version, balance, ttl ms.
var setIfVersionScript = redis.NewScript(`
if (redis.call('GET', KEYS[1]) or '0') ~= ARGV[1] then
    return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// KEYS[1] version, KEYS[2] balance; ARGV version ttl ms.
var invalidateScript = redis.NewScript(`
redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[2])
return 1
`)

// RedisBalanceCache stores balances as plain integers with a TTL, guarded
// by a version counter that outlives them.
type RedisBalanceCache struct {
	client     redis.Cmdable
	ttl        time.Duration
	versionTTL time.Duration
}

func NewRedisBalanceCache(client redis.Cmdable, ttl time.Duration) *RedisBalanceCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	versionTTL := time.Hour
	if versionTTL < 10*ttl {
		versionTTL = 10 * ttl
	}
	return &RedisBalanceCache{client: client, ttl: ttl, versionTTL: versionTTL}
}

func balanceKey(userID uuid.UUID) string {
	return balanceKeyPrefix + userID.String()
}

func versionKey(userID uuid.UUID) string {
	return versionKeyPrefix + userID.String()
}

func (c *RedisBalanceCache) Get(ctx context.Context, userID uuid.UUID) (int64, bool, error) {
	v, err := c.client.Get(ctx, balanceKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (c *RedisBalanceCache) Version(ctx context.Context, userID uuid.UUID) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c *RedisBalanceCache) SetIfVersion(ctx context.Context, userID uuid.UUID, version, balance int64) (bool, error) {
	keys := []string{versionKey(userID), balanceKey(userID)}
	n, err := setIfVersionScript.Run(ctx, c.client, keys, version, balance, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *RedisBalanceCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	keys := []string{versionKey(userID), balanceKey(userID)}
	return invalidateScript.Run(ctx, c.client, keys, c.versionTTL.Milliseconds()).Err()
}

type noopCache struct{}

func (noopCache) Get(context.Context, uuid.UUID) (int64, bool, error) { return 0, false, nil }
func (noopCache) Version(context.Context, uuid.UUID) (int64, error)   { return 0, nil }
func (noopCache) SetIfVersion(context.Context, uuid.UUID, int64, int64) (bool, error) {
	return false, nil
}
func (noopCache) Invalidate(context.Context, uuid.UUID) error { return nil }
