package redis

import "fmt"

// CheckoutLockKey 用户级下单锁，同一用户同一时刻只允许一个下单事务。
func CheckoutLockKey(userID int64) string {
	return fmt.Sprintf("food_order:checkout:lock:%d", userID)
}

// CheckoutStateKey 存储幂等键对应的下单状态（pending/success）。
func CheckoutStateKey(userID int64, idemKey string) string {
	return fmt.Sprintf("food_order:checkout:idem:%d:%s", userID, idemKey)
}

// RateLimitKey 下单接口按用户的滑动窗口限流键。
func RateLimitKey(scope, userID string) string {
	return fmt.Sprintf("food_order:ratelimit:%s:%s", scope, userID)
}
