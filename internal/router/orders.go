package router

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"food_order/internal/config"
	"food_order/internal/middleware"
	"food_order/internal/model"
	"food_order/internal/service"
	rediskey "food_order/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	redisCleanupTimeout  = 2 * time.Second
)

// orderView 订单详情 + 汇总字段。
type orderView struct {
	*model.Order
	TotalItems        int                 `json:"total_items"`
	CanCancel         bool                `json:"can_cancel"`
	AllowedNextStatus []model.OrderStatus `json:"allowed_next_status"`
}

func newOrderView(o *model.Order) orderView {
	v := orderView{
		Order:             o,
		CanCancel:         !o.Status.IsTerminal(),
		AllowedNextStatus: service.AllowedTransitions(o.Status),
	}
	for _, it := range o.Items {
		v.TotalItems += it.Quantity
	}
	return v
}

// createOrder 下单入口。
// 关键流程：
// 1. 幂等键占位（pending），已成功的重放直接返回原订单
// 2. 用户级下单锁，同一用户的并发下单排队失败而不是互相抢购物车
// 3. 单事务建单（订单、明细、扣库存、用券、清空购物车、outbox）
// 4. 成功后记录幂等结果；失败则释放占位，允许同一幂等键重试
func createOrder(svc *service.Services, rdb *rd.Client, cfg config.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			AddressID  uint   `json:"address_id" binding:"required,min=1"`
			CouponCode string `json:"coupon_code" binding:"max=50"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		ctx := c.Request.Context()
		userID := middleware.UserID(c)
		requestID := uuid.New().String()
		idemKey := strings.TrimSpace(c.GetHeader(headerIdempotencyKey))

		// 释放占位、释放锁、记录结果都不能随客户端断开而中止，否则幂等键会卡在 pending 直到过期
		cleanup := func(fn func(ctx context.Context) error) error {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisCleanupTimeout)
			defer cancel()
			return fn(cctx)
		}
		release := func() {
			err := cleanup(func(ctx context.Context) error {
				return rediskey.ReleaseCheckout(ctx, rdb, userID, idemKey, requestID)
			})
			if err != nil {
				slog.Warn("release idempotency key", "user_id", userID, "error", err)
			}
		}

		// 1. 幂等键
		if rdb == nil || len(idemKey) > 128 {
			idemKey = ""
		}
		if idemKey != "" {
			claimed, err := rediskey.ClaimCheckout(ctx, rdb, userID, idemKey, requestID, cfg.IdempotencyTTL)
			if err != nil {
				// Redis 出错时降级为不做幂等；占位可能已经写入，按 request_id 清掉
				slog.Warn("idempotency unavailable", "user_id", userID, "error", err)
				release()
				idemKey = ""
			} else if !claimed {
				replayCheckout(c, svc, rdb, userID, idemKey)
				return
			}
		}

		// 2. 用户级下单锁
		if rdb != nil {
			locked, err := rediskey.AcquireCheckoutLock(ctx, rdb, userID, requestID, cfg.CheckoutLockTTL)
			switch {
			case err != nil:
				slog.Warn("checkout lock unavailable", "user_id", userID, "error", err)
			case !locked:
				if idemKey != "" {
					release()
				}
				c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "msg": "另一笔下单正在处理中，请稍后重试"})
				return
			default:
				defer func() {
					err := cleanup(func(ctx context.Context) error {
						return rediskey.ReleaseCheckoutLock(ctx, rdb, userID, requestID)
					})
					if err != nil {
						slog.Warn("release checkout lock", "user_id", userID, "error", err)
					}
				}()
			}
		}

		// 3. 建单
		order, err := svc.Orders.CreateOrder(ctx, userID, req.AddressID, req.CouponCode)
		if err != nil {
			if idemKey != "" {
				release()
			}
			writeError(c, err)
			return
		}

		// 4. 记录幂等结果
		if idemKey != "" {
			err := cleanup(func(ctx context.Context) error {
				return rediskey.PutCheckoutSuccess(ctx, rdb, userID, idemKey, requestID, order.ID, order.OrderNo, cfg.IdempotencyTTL)
			})
			if err != nil {
				slog.Warn("store idempotency result", "user_id", userID, "order_no", order.OrderNo, "error", err)
			}
		}
		slog.Info("order created", "request_id", requestID, "user_id", userID,
			"order_no", order.OrderNo, "total_price", order.TotalPrice.StringFixed(2), "coupon_code", order.CouponCode)
		created(c, newOrderView(order))
	}
}

// replayCheckout 幂等键已被占用：成功的返回原订单，处理中的返回 409。
func replayCheckout(c *gin.Context, svc *service.Services, rdb *rd.Client, userID int64, idemKey string) {
	st, found, err := rediskey.GetCheckoutState(c.Request.Context(), rdb, userID, idemKey)
	if err != nil {
		writeError(c, err)
		return
	}
	if !found || st.Status != rediskey.CheckoutSuccess {
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "msg": "相同幂等键的请求正在处理中"})
		return
	}
	order, err := svc.Orders.GetOrder(c.Request.Context(), st.OrderID, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Idempotent-Replayed", "true")
	ok(c, newOrderView(order))
}

func listOrders(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orders, err := svc.Orders.ListOrders(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		views := make([]orderView, 0, len(orders))
		for i := range orders {
			views = append(views, newOrderView(&orders[i]))
		}
		ok(c, views)
	}
}

func getOrder(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		order, err := svc.Orders.GetOrder(c.Request.Context(), id, middleware.UserID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, newOrderView(order))
	}
}

func orderHistory(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		rows, err := svc.Lifecycle.History(c.Request.Context(), id, middleware.UserID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, rows)
	}
}

// orderStatus 当前状态与可流转的下一步。
func orderStatus(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		order, err := svc.Orders.GetOrder(c.Request.Context(), id, middleware.UserID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{
			"order_id":            order.ID,
			"order_no":            order.OrderNo,
			"status":              order.Status,
			"payment_status":      order.PaymentStatus,
			"allowed_next_status": service.AllowedTransitions(order.Status),
			"history":             order.History,
		})
	}
}

func cancelOrder(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		order, err := svc.Lifecycle.CancelOrder(c.Request.Context(), id, middleware.UserID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		slog.Info("order cancelled", "order_no", order.OrderNo, "user_id", order.UserID)
		ok(c, newOrderView(order))
	}
}

// updateOrderStatus 后台推进订单状态；目标状态先按枚举校验再查状态机。
func updateOrderStatus(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		var req struct {
			Status string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		order, err := svc.Lifecycle.UpdateStatus(c.Request.Context(), id, req.Status)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, newOrderView(order))
	}
}

func updatePaymentStatus(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		var req struct {
			PaymentStatus string `json:"payment_status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		order, err := svc.Lifecycle.UpdatePaymentStatus(c.Request.Context(), id, req.PaymentStatus)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, newOrderView(order))
	}
}
