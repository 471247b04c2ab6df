package redis

import (
	"context"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	// CheckoutPending 表示该幂等键的下单正在处理。
	CheckoutPending = "pending"
	// CheckoutSuccess 表示已成功建单，重放直接返回原订单。
	CheckoutSuccess = "success"
)

// CheckoutState 对应 Redis 内的幂等键状态。
type CheckoutState struct {
	RequestID string
	Status    string
	OrderID   uint
	OrderNo   string
}

// GetCheckoutState 查询幂等键当前状态。found=false 表示 key 不存在。
func GetCheckoutState(ctx context.Context, rdb *rd.Client, userID int64, idemKey string) (CheckoutState, bool, error) {
	m, err := rdb.HGetAll(ctx, CheckoutStateKey(userID, idemKey)).Result()
	if err != nil {
		return CheckoutState{}, false, err
	}
	if len(m) == 0 {
		return CheckoutState{}, false, nil
	}

	out := CheckoutState{
		RequestID: m["request_id"],
		Status:    m["status"],
		OrderNo:   m["order_no"],
	}
	if out.Status == "" {
		out.Status = CheckoutPending
	}
	if v := m["order_id"]; v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return CheckoutState{}, false, err
		}
		out.OrderID = uint(id)
	}
	return out, true, nil
}

// luaClaimCheckout 幂等键不存在时占位为 pending，返回 1；已存在返回 0。
const luaClaimCheckout = `
local key = KEYS[1]
if redis.call('HSETNX', key, 'request_id', ARGV[1]) == 1 then
  redis.call('HSET', key, 'status', 'pending')
  redis.call('PEXPIRE', key, ARGV[2])
  return 1
end
return 0
`

// ClaimCheckout 原子地占用幂等键。claimed=false 时调用方应读取已有状态。
func ClaimCheckout(ctx context.Context, rdb *rd.Client, userID int64, idemKey, requestID string, ttl time.Duration) (bool, error) {
	n, err := rdb.Eval(ctx, luaClaimCheckout, []string{CheckoutStateKey(userID, idemKey)}, requestID, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// PutCheckoutSuccess 记录建单结果，并刷新 key TTL。
func PutCheckoutSuccess(ctx context.Context, rdb *rd.Client, userID int64, idemKey, requestID string, orderID uint, orderNo string, ttl time.Duration) error {
	key := CheckoutStateKey(userID, idemKey)
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"request_id", requestID,
		"status", CheckoutSuccess,
		"order_id", strconv.FormatUint(uint64(orderID), 10),
		"order_no", orderNo,
	)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// luaReleaseCheckout 仅当占位仍属于本次请求时才删除。
const luaReleaseCheckout = `
local key = KEYS[1]
if redis.call('HGET', key, 'request_id') == ARGV[1] then
  return redis.call('DEL', key)
end
return 0
`

// ReleaseCheckout 下单失败时删除本次请求的占位，允许客户端用同一个幂等键重试。
// 别的请求占着的 key 不受影响。
func ReleaseCheckout(ctx context.Context, rdb *rd.Client, userID int64, idemKey, requestID string) error {
	_, err := rdb.Eval(ctx, luaReleaseCheckout, []string{CheckoutStateKey(userID, idemKey)}, requestID).Int()
	return err
}
