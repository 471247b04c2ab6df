package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType 优惠方式。
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Coupon 优惠券：有效期、总量/每人限次、可选的指定用户范围。
// CurrentUsageCount 只通过条件自增修改（见 service.CouponEngine.IncrementUsage）。
type Coupon struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Code        string `gorm:"size:50;uniqueIndex;not null" json:"code"`
	Description string `gorm:"type:text" json:"description"`

	DiscountType          DiscountType     `gorm:"size:20;not null" json:"discount_type"`
	DiscountValue         decimal.Decimal  `gorm:"type:decimal(10,2);not null" json:"discount_value"`
	MinimumOrderAmount    decimal.Decimal  `gorm:"type:decimal(10,2);not null;default:0" json:"minimum_order_amount"`
	MaximumDiscountAmount *decimal.Decimal `gorm:"type:decimal(10,2)" json:"maximum_discount_amount"`

	MaxUsageTotal     *int `json:"max_usage_total"`
	MaxUsagePerUser   int  `gorm:"not null" json:"max_usage_per_user"`
	CurrentUsageCount int  `gorm:"not null;default:0" json:"current_usage_count"`

	IsUserSpecific bool                `gorm:"not null" json:"is_user_specific"`
	AllowedUsers   []CouponAllowedUser `gorm:"foreignKey:CouponID" json:"-"`

	ValidFrom  time.Time `gorm:"not null" json:"valid_from"`
	ValidUntil time.Time `gorm:"not null" json:"valid_until"`
	IsActive   bool      `gorm:"not null;index" json:"is_active"`
}

func (Coupon) TableName() string { return "coupons" }

// IsValid 启用中、在有效期内、且总量未用完。
func (c *Coupon) IsValid(now time.Time) bool {
	if !c.IsActive {
		return false
	}
	if now.Before(c.ValidFrom) || now.After(c.ValidUntil) {
		return false
	}
	if c.MaxUsageTotal != nil && c.CurrentUsageCount >= *c.MaxUsageTotal {
		return false
	}
	return true
}

// RemainingUses nil 表示不限量。
func (c *Coupon) RemainingUses() *int {
	if c.MaxUsageTotal == nil {
		return nil
	}
	left := *c.MaxUsageTotal - c.CurrentUsageCount
	if left < 0 {
		left = 0
	}
	return &left
}

// CouponAllowedUser 指定用户券的白名单。
type CouponAllowedUser struct {
	CouponID uint  `gorm:"primaryKey" json:"coupon_id"`
	UserID   int64 `gorm:"primaryKey" json:"user_id"`
}

func (CouponAllowedUser) TableName() string { return "coupon_allowed_users" }

// CouponUsage 一次用券记录；金额是下单时的快照，之后改券不影响。只插入不修改。
type CouponUsage struct {
	ID       uint      `gorm:"primarykey" json:"id"`
	CouponID uint      `gorm:"not null;index:idx_coupon_user" json:"coupon_id"`
	UserID   int64     `gorm:"not null;index:idx_coupon_user" json:"user_id"`
	OrderID  uint      `gorm:"not null;uniqueIndex" json:"order_id"`
	UsedAt   time.Time `gorm:"not null" json:"used_at"`

	OrderAmount    decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"order_amount"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"discount_amount"`
	FinalAmount    decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"final_amount"`

	Coupon *Coupon `gorm:"foreignKey:CouponID" json:"coupon,omitempty"`
}

func (CouponUsage) TableName() string { return "coupon_usages" }
