package router

import (
	"time"

	"food_order/internal/middleware"
	"food_order/internal/model"
	"food_order/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type createCouponRequest struct {
	Code                  string           `json:"code" binding:"required,max=50"`
	Description           string           `json:"description"`
	DiscountType          string           `json:"discount_type" binding:"required,oneof=percentage fixed"`
	DiscountValue         decimal.Decimal  `json:"discount_value"`
	MinimumOrderAmount    decimal.Decimal  `json:"minimum_order_amount"`
	MaximumDiscountAmount *decimal.Decimal `json:"maximum_discount_amount"`
	MaxUsageTotal         *int             `json:"max_usage_total"`
	MaxUsagePerUser       int              `json:"max_usage_per_user"`
	IsUserSpecific        bool             `json:"is_user_specific"`
	AllowedUserIDs        []int64          `json:"allowed_user_ids"`
	ValidFrom             string           `json:"valid_from" binding:"required"`  // RFC3339
	ValidUntil            string           `json:"valid_until" binding:"required"` // RFC3339
	IsActive              *bool            `json:"is_active"`
}

// createCoupon 后台建券；未传 max_usage_per_user 视为每人 1 次，未传 is_active 视为启用。
func createCoupon(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createCouponRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		from, err := time.Parse(time.RFC3339, req.ValidFrom)
		if err != nil {
			badRequest(c, "valid_from 格式错误，请用 RFC3339")
			return
		}
		until, err := time.Parse(time.RFC3339, req.ValidUntil)
		if err != nil {
			badRequest(c, "valid_until 格式错误，请用 RFC3339")
			return
		}

		coupon := &model.Coupon{
			Code:                  req.Code,
			Description:           req.Description,
			DiscountType:          model.DiscountType(req.DiscountType),
			DiscountValue:         req.DiscountValue,
			MinimumOrderAmount:    req.MinimumOrderAmount,
			MaximumDiscountAmount: req.MaximumDiscountAmount,
			MaxUsageTotal:         req.MaxUsageTotal,
			MaxUsagePerUser:       req.MaxUsagePerUser,
			IsUserSpecific:        req.IsUserSpecific,
			ValidFrom:             from,
			ValidUntil:            until,
			IsActive:              true,
		}
		if coupon.MaxUsagePerUser == 0 {
			coupon.MaxUsagePerUser = 1
		}
		if req.IsActive != nil {
			coupon.IsActive = *req.IsActive
		}

		if err := svc.Coupons.Create(c.Request.Context(), coupon, req.AllowedUserIDs); err != nil {
			writeError(c, err)
			return
		}
		created(c, coupon)
	}
}

func couponStats(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := svc.Coupons.UsageStats(c.Request.Context(), c.Param("code"))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, stats)
	}
}

// listCoupons 当前用户此刻可用的券。
func listCoupons(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		coupons, err := svc.Coupons.ListAvailable(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, coupons)
	}
}

func myCouponUsage(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		usages, err := svc.Coupons.ListUsages(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, usages)
	}
}

func getCoupon(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		coupon, err := svc.Coupons.Get(c.Request.Context(), c.Param("code"), middleware.UserID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, coupon)
	}
}

// validateCoupon 只做预览：不加锁、不占用次数。
func validateCoupon(svc *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Code        string          `json:"code" binding:"required"`
			OrderAmount decimal.Decimal `json:"order_amount"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if !req.OrderAmount.IsPositive() {
			badRequest(c, "order_amount must be > 0")
			return
		}
		res, err := svc.Coupons.Validate(c.Request.Context(), req.Code, middleware.UserID(c), req.OrderAmount)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, res)
	}
}
