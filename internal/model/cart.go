package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Address 收货地址（外部地址簿的本地副本）。被订单引用后不能删除。
type Address struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID int64  `gorm:"not null;index" json:"user_id"`
	Label  string `gorm:"size:50" json:"label"`
	City   string `gorm:"size:100;not null" json:"city"`
	Street string `gorm:"size:255;not null" json:"street"`
}

func (Address) TableName() string { return "addresses" }

// CartItem 购物车行。Price 是加入购物车时的价格快照，下单按它计算小计。
type CartItem struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID    int64           `gorm:"not null;uniqueIndex:idx_cart_user_product" json:"user_id"`
	ProductID uint            `gorm:"not null;uniqueIndex:idx_cart_user_product" json:"product_id"`
	Quantity  int             `gorm:"not null" json:"quantity"`
	Price     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`

	Product *Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`
}

func (CartItem) TableName() string { return "cart_items" }

func (i CartItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
