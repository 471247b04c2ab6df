package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus 订单生命周期状态（pending → preparing → on_the_way → delivered，可中途 cancelled）。
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusOnTheWay  OrderStatus = "on_the_way"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderStatuses 按生命周期顺序列出全部状态。
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPreparing,
	OrderStatusOnTheWay,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// ParseOrderStatus 将外部传入的字符串校验为已知状态。
func ParseOrderStatus(s string) (OrderStatus, bool) {
	for _, st := range OrderStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// IsTerminal delivered / cancelled 之后不再流转。
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// PaymentStatus 支付状态，独立于订单状态；不对接任何支付网关。
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

var PaymentStatuses = []PaymentStatus{PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed}

// ParsePaymentStatus 校验支付状态字符串。
func ParsePaymentStatus(s string) (PaymentStatus, bool) {
	for _, st := range PaymentStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Order 订单主表。金额在创建时一次性算好：TotalPrice = Subtotal - DiscountAmount。
type Order struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderNo   string `gorm:"size:64;uniqueIndex;not null" json:"order_no"`
	UserID    int64  `gorm:"not null;index" json:"user_id"`
	AddressID uint   `gorm:"not null;index" json:"address_id"`

	Subtotal       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"subtotal"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"discount_amount"`
	TotalPrice     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"total_price"`
	CouponCode     string          `gorm:"size:50;not null;default:''" json:"coupon_code"`

	Status        OrderStatus   `gorm:"size:20;not null;default:pending;index" json:"status"`
	PaymentStatus PaymentStatus `gorm:"size:20;not null;default:pending" json:"payment_status"`

	Items   []OrderItem          `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	History []OrderStatusHistory `gorm:"foreignKey:OrderID" json:"history,omitempty"`
}

func (Order) TableName() string { return "orders" }

// OrderItem 下单时的商品快照，和实时商品表解耦，之后改价改名都不影响历史订单。
type OrderItem struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	OrderID     uint            `gorm:"not null;index" json:"order_id"`
	ProductID   uint            `gorm:"not null;index" json:"product_id"`
	ProductName string          `gorm:"size:128;not null" json:"product_name"`
	Price       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	Quantity    int             `gorm:"not null" json:"quantity"`
}

func (OrderItem) TableName() string { return "order_items" }

// LineTotal 单行小计。
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderStatusHistory 状态审计日志，只插入不修改。
type OrderStatusHistory struct {
	ID        uint        `gorm:"primarykey" json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	OrderID   uint        `gorm:"not null;index" json:"order_id"`
	Status    OrderStatus `gorm:"size:20;not null" json:"status"`
}

func (OrderStatusHistory) TableName() string { return "order_status_history" }
