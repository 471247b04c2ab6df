package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReleaseUserLockIfMatch 仅当锁值匹配 token 时才删除，避免误删超时后被别的请求拿到的锁。
const luaReleaseUserLockIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

// AcquireCheckoutLock 尝试占用用户下单锁。ok=false 表示该用户已有下单在进行中。
func AcquireCheckoutLock(ctx context.Context, rdb *rd.Client, userID int64, token string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, CheckoutLockKey(userID), token, ttl).Result()
}

// ReleaseCheckoutLock 安全释放用户下单锁。
func ReleaseCheckoutLock(ctx context.Context, rdb *rd.Client, userID int64, token string) error {
	_, err := rdb.Eval(ctx, luaReleaseUserLockIfMatch, []string{CheckoutLockKey(userID)}, token).Int()
	return err
}
