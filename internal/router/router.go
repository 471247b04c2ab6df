package router

import (
	"net/http"
	"strconv"

	"food_order/internal/config"
	"food_order/internal/middleware"
	"food_order/internal/service"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
)

// Setup 注册全部 HTTP 路由。rdb 为 nil 时不限流、不加下单锁、不支持幂等键。
func Setup(r *gin.Engine, svc *service.Services, rdb *rd.Client, cfg config.AppConfig) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	api := r.Group("/api")
	user := api.Group("", middleware.UserIdentity())
	admin := api.Group("", middleware.AdminOnly(cfg.AdminToken))

	// Products & inventory
	api.GET("/products", listProducts(svc))
	admin.POST("/products", createProduct(svc))
	admin.PATCH("/products/:id/availability", setAvailability(svc))
	api.GET("/inventory/:product_id", getInventory(svc))
	api.GET("/inventory/:product_id/transactions", listInventoryTransactions(svc))
	admin.GET("/inventory/:product_id/reconcile", reconcileInventory(svc))
	admin.POST("/inventory/:product_id", createInventory(svc))
	admin.POST("/inventory/:product_id/adjust", adjustInventory(svc))

	// Addresses & cart
	user.POST("/addresses", createAddress(svc))
	user.DELETE("/addresses/:id", deleteAddress(svc))
	user.GET("/cart", getCart(svc))
	user.POST("/cart/items", addCartItem(svc))
	user.DELETE("/cart/items/:id", removeCartItem(svc))

	// Orders
	checkout := []gin.HandlerFunc{}
	if rdb != nil {
		checkout = append(checkout, middleware.RedisRateLimit(rdb, "checkout", cfg.CheckoutRateLimit, cfg.CheckoutRateWindow))
	}
	checkout = append(checkout, createOrder(svc, rdb, cfg))
	user.POST("/orders", checkout...)
	user.GET("/orders", listOrders(svc))
	user.GET("/orders/:id", getOrder(svc))
	user.GET("/orders/:id/history", orderHistory(svc))
	user.GET("/orders/:id/status", orderStatus(svc))
	user.POST("/orders/:id/cancel", cancelOrder(svc))
	admin.PATCH("/orders/:id/status", updateOrderStatus(svc))
	admin.PATCH("/orders/:id/payment-status", updatePaymentStatus(svc))

	// Coupons
	admin.POST("/coupons", createCoupon(svc))
	admin.GET("/coupons/:code/stats", couponStats(svc))
	user.GET("/coupons", listCoupons(svc))
	user.GET("/coupons/my-usage", myCouponUsage(svc))
	user.GET("/coupons/:code", getCoupon(svc))
	user.POST("/coupons/validate", validateCoupon(svc))
}

// writeError 按错误分类映射状态码；未分类的错误记到 gin context 由访问日志输出。
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case service.IsValidation(err):
		status = http.StatusBadRequest
	case service.IsNotFound(err):
		status = http.StatusNotFound
	case service.IsConflict(err):
		status = http.StatusConflict
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "服务内部错误"
	}
	c.JSON(status, gin.H{"code": status, "msg": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "msg": msg})
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": data})
}

func created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, gin.H{"code": 0, "data": data})
}

// paramID 解析路径里的 32 位十进制 ID，失败时直接写 400。
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		badRequest(c, name+" 无效")
		return 0, false
	}
	return uint(id), true
}
