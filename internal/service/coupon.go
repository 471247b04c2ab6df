package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"food_order/internal/model"
	"food_order/internal/store"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

// DiscountResult 一次校验通过后的折扣快照。
type DiscountResult struct {
	Coupon         *model.Coupon   `json:"-"`
	CouponCode     string          `json:"coupon_code"`
	DiscountType   string          `json:"discount_type"`
	DiscountValue  decimal.Decimal `json:"discount_value"`
	OrderAmount    decimal.Decimal `json:"order_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
}

// CouponStats 单张券的使用统计。UsageRemaining 为 nil 表示不限量。
type CouponStats struct {
	CouponCode         string          `json:"coupon_code"`
	TotalUses          int             `json:"total_uses"`
	MaxUsageTotal      *int            `json:"max_usage_total"`
	UsageRemaining     *int            `json:"usage_remaining"`
	TotalDiscountGiven decimal.Decimal `json:"total_discount_given"`
	IsActive           bool            `json:"is_active"`
	IsCurrentlyValid   bool            `json:"is_currently_valid"`
}

// CouponEngine 负责券的资格校验、折扣计算和用量自增。
type CouponEngine struct {
	db  *gorm.DB
	now func() time.Time
}

func NewCouponEngine(db *gorm.DB) *CouponEngine {
	return &CouponEngine{db: db, now: time.Now}
}

// SetClock 替换时钟，测试用。
func (e *CouponEngine) SetClock(now func() time.Time) {
	e.now = now
}

// NormalizeCode 券码统一去空白、转大写。
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate 校验券对该用户、该金额是否可用，并计算折扣。不修改任何计数。
func (e *CouponEngine) Validate(ctx context.Context, code string, userID int64, orderAmount decimal.Decimal) (DiscountResult, error) {
	return e.validate(e.db.WithContext(ctx), code, userID, orderAmount, false)
}

// validate 在给定连接/事务上执行校验；lock=true 时锁住券行直到事务结束，串行化同一张券的并发下单。
func (e *CouponEngine) validate(tx *gorm.DB, code string, userID int64, orderAmount decimal.Decimal, lock bool) (DiscountResult, error) {
	code = NormalizeCode(code)

	q := tx
	if lock {
		q = store.ForUpdate(tx)
	}
	var coupon model.Coupon
	if err := q.Where("code = ?", code).First(&coupon).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return DiscountResult{}, notFoundf("invalid coupon code %q", code)
		}
		return DiscountResult{}, fmt.Errorf("load coupon: %w", err)
	}

	ok, reason, err := e.canUserUse(tx, &coupon, userID)
	if err != nil {
		return DiscountResult{}, err
	}
	if !ok {
		return DiscountResult{}, validationf("%s", reason)
	}

	if orderAmount.LessThan(coupon.MinimumOrderAmount) {
		return DiscountResult{}, validationf("minimum order amount of $%s required for this coupon",
			coupon.MinimumOrderAmount.StringFixed(2))
	}

	discount, final := CalculateDiscount(&coupon, orderAmount)
	return DiscountResult{
		Coupon:         &coupon,
		CouponCode:     coupon.Code,
		DiscountType:   string(coupon.DiscountType),
		DiscountValue:  coupon.DiscountValue,
		OrderAmount:    orderAmount,
		DiscountAmount: discount,
		FinalAmount:    final,
	}, nil
}

// CanUserUse 返回该用户能否使用此券；不能时附带具体原因。
func (e *CouponEngine) CanUserUse(ctx context.Context, coupon *model.Coupon, userID int64) (bool, string, error) {
	return e.canUserUse(e.db.WithContext(ctx), coupon, userID)
}

func (e *CouponEngine) canUserUse(tx *gorm.DB, coupon *model.Coupon, userID int64) (bool, string, error) {
	if !coupon.IsValid(e.now()) {
		return false, "coupon is not valid", nil
	}

	if coupon.IsUserSpecific {
		var n int64
		err := tx.Model(&model.CouponAllowedUser{}).
			Where("coupon_id = ? AND user_id = ?", coupon.ID, userID).
			Count(&n).Error
		if err != nil {
			return false, "", fmt.Errorf("check coupon allowed users: %w", err)
		}
		if n == 0 {
			return false, "this coupon is not available for your account", nil
		}
	}

	var used int64
	err := tx.Model(&model.CouponUsage{}).
		Where("coupon_id = ? AND user_id = ?", coupon.ID, userID).
		Count(&used).Error
	if err != nil {
		return false, "", fmt.Errorf("count coupon usage: %w", err)
	}
	if used >= int64(coupon.MaxUsagePerUser) {
		return false, fmt.Sprintf("you have already used this coupon %d time(s)", coupon.MaxUsagePerUser), nil
	}
	return true, "", nil
}

// CalculateDiscount 纯函数：返回 (折扣, 实付)。
// 百分比折扣按银行家舍入保留两位，正数上限才生效；最终折扣不超过订单金额。
func CalculateDiscount(coupon *model.Coupon, orderAmount decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if orderAmount.LessThan(coupon.MinimumOrderAmount) {
		return decimal.Zero, orderAmount
	}

	var discount decimal.Decimal
	switch coupon.DiscountType {
	case model.DiscountPercentage:
		discount = orderAmount.Mul(coupon.DiscountValue).Div(hundred).RoundBank(2)
		if limit := coupon.MaximumDiscountAmount; limit != nil && limit.IsPositive() && discount.GreaterThan(*limit) {
			discount = *limit
		}
	default:
		discount = coupon.DiscountValue
	}

	if discount.GreaterThan(orderAmount) {
		discount = orderAmount
	}
	return discount, orderAmount.Sub(discount)
}

// IncrementUsage 条件自增用量，必须在下单事务内调用。
// 总量已满时不会更新任何行，返回 ConflictError。
func (e *CouponEngine) IncrementUsage(tx *gorm.DB, couponID uint) error {
	res := tx.Model(&model.Coupon{}).
		Where("id = ? AND (max_usage_total IS NULL OR current_usage_count < max_usage_total)", couponID).
		UpdateColumn("current_usage_count", gorm.Expr("current_usage_count + 1"))
	if res.Error != nil {
		return fmt.Errorf("increment coupon usage: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return conflictf("coupon usage limit reached, please retry without the coupon")
	}
	return nil
}

// Get 按券码查询；指定用户券对其他用户不可见。
func (e *CouponEngine) Get(ctx context.Context, code string, userID int64) (*model.Coupon, error) {
	code = NormalizeCode(code)
	db := e.db.WithContext(ctx)

	var coupon model.Coupon
	if err := db.Where("code = ?", code).First(&coupon).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundf("coupon %q not found", code)
		}
		return nil, fmt.Errorf("load coupon: %w", err)
	}
	if coupon.IsUserSpecific {
		var n int64
		if err := db.Model(&model.CouponAllowedUser{}).
			Where("coupon_id = ? AND user_id = ?", coupon.ID, userID).
			Count(&n).Error; err != nil {
			return nil, fmt.Errorf("check coupon allowed users: %w", err)
		}
		if n == 0 {
			return nil, notFoundf("coupon %q not found", code)
		}
	}
	return &coupon, nil
}

// ListAvailable 列出该用户当前还能用的券：有效、公开或在白名单内、总量和个人次数都没用完。
func (e *CouponEngine) ListAvailable(ctx context.Context, userID int64) ([]model.Coupon, error) {
	db := e.db.WithContext(ctx)

	var coupons []model.Coupon
	err := db.Where("is_active = ?", true).
		Where("(is_user_specific = ? OR id IN (?))", false,
			db.Model(&model.CouponAllowedUser{}).Select("coupon_id").Where("user_id = ?", userID)).
		Order("id").
		Find(&coupons).Error
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}

	type usageCount struct {
		CouponID uint
		N        int
	}
	var counts []usageCount
	if err := db.Model(&model.CouponUsage{}).
		Select("coupon_id, COUNT(*) AS n").
		Where("user_id = ?", userID).
		Group("coupon_id").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("count coupon usage: %w", err)
	}
	used := make(map[uint]int, len(counts))
	for _, c := range counts {
		used[c.CouponID] = c.N
	}

	now := e.now()
	out := make([]model.Coupon, 0, len(coupons))
	for _, c := range coupons {
		if !c.IsValid(now) || used[c.ID] >= c.MaxUsagePerUser {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// ListUsages 用户的用券记录，新的在前。
func (e *CouponEngine) ListUsages(ctx context.Context, userID int64) ([]model.CouponUsage, error) {
	var usages []model.CouponUsage
	err := e.db.WithContext(ctx).
		Preload("Coupon").
		Where("user_id = ?", userID).
		Order("id DESC").
		Find(&usages).Error
	if err != nil {
		return nil, fmt.Errorf("list coupon usages: %w", err)
	}
	return usages, nil
}

// UsageStats 汇总单张券的用量与累计优惠金额。
func (e *CouponEngine) UsageStats(ctx context.Context, code string) (CouponStats, error) {
	code = NormalizeCode(code)
	db := e.db.WithContext(ctx)

	var coupon model.Coupon
	if err := db.Where("code = ?", code).First(&coupon).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return CouponStats{}, notFoundf("coupon %q not found", code)
		}
		return CouponStats{}, fmt.Errorf("load coupon: %w", err)
	}

	var usages []model.CouponUsage
	if err := db.Where("coupon_id = ?", coupon.ID).Find(&usages).Error; err != nil {
		return CouponStats{}, fmt.Errorf("list coupon usages: %w", err)
	}
	total := decimal.Zero
	for _, u := range usages {
		total = total.Add(u.DiscountAmount)
	}

	return CouponStats{
		CouponCode:         coupon.Code,
		TotalUses:          coupon.CurrentUsageCount,
		MaxUsageTotal:      coupon.MaxUsageTotal,
		UsageRemaining:     coupon.RemainingUses(),
		TotalDiscountGiven: total,
		IsActive:           coupon.IsActive,
		IsCurrentlyValid:   coupon.IsValid(e.now()),
	}, nil
}

// Create 新建券（后台）。allowedUsers 仅对指定用户券有意义。
func (e *CouponEngine) Create(ctx context.Context, coupon *model.Coupon, allowedUsers []int64) error {
	coupon.Code = NormalizeCode(coupon.Code)
	if err := checkCoupon(coupon); err != nil {
		return err
	}

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.Coupon{}).Where("code = ?", coupon.Code).Count(&n).Error; err != nil {
			return fmt.Errorf("check coupon code: %w", err)
		}
		if n > 0 {
			return conflictf("coupon code %q already exists", coupon.Code)
		}
		if err := tx.Create(coupon).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return conflictf("coupon code %q already exists", coupon.Code)
			}
			return fmt.Errorf("create coupon: %w", err)
		}
		if !coupon.IsUserSpecific || len(allowedUsers) == 0 {
			return nil
		}
		rows := make([]model.CouponAllowedUser, 0, len(allowedUsers))
		seen := make(map[int64]bool, len(allowedUsers))
		for _, uid := range allowedUsers {
			if seen[uid] {
				continue
			}
			seen[uid] = true
			rows = append(rows, model.CouponAllowedUser{CouponID: coupon.ID, UserID: uid})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("create coupon allowed users: %w", err)
		}
		return nil
	})
	return translateTxError(err)
}

func checkCoupon(c *model.Coupon) error {
	if c.Code == "" {
		return validationf("coupon code is required")
	}
	if c.DiscountType != model.DiscountPercentage && c.DiscountType != model.DiscountFixed {
		return validationf("discount_type must be one of: percentage, fixed")
	}
	if !c.DiscountValue.IsPositive() {
		return validationf("discount_value must be > 0")
	}
	if c.DiscountType == model.DiscountPercentage && c.DiscountValue.GreaterThan(hundred) {
		return validationf("percentage discount cannot exceed 100")
	}
	if c.MinimumOrderAmount.IsNegative() {
		return validationf("minimum_order_amount must be >= 0")
	}
	if c.MaxUsageTotal != nil && *c.MaxUsageTotal < 1 {
		return validationf("max_usage_total must be >= 1 when set")
	}
	if c.MaxUsagePerUser < 1 {
		return validationf("max_usage_per_user must be >= 1")
	}
	if !c.ValidUntil.After(c.ValidFrom) {
		return validationf("valid_until must be after valid_from")
	}
	return nil
}
